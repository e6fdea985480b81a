package hash

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/narvanalabs/jsbuilder/internal/builder/normalize"
	"github.com/narvanalabs/jsbuilder/internal/models"
)

// genModules generates module lists.
func genModules() gopter.Gen {
	return gen.SliceOfN(4, gen.OneConstOf(
		"main", "core", "pipeline", "data-manager", "notifier", "auth", "utilities",
	))
}

// genRawParams generates raw request parameters.
func genRawParams() gopter.Gen {
	return gopter.CombineGens(
		genModules(),
		genModules(),
		gen.Bool(),
		gen.OneConstOf("bundle.js", "bundle.zip", "theme.css", ""),
		gen.OneConstOf("", "banner", "strip-sourcemap"),
	).Map(func(vals []interface{}) models.RawParams {
		optimize := ""
		if vals[2].(bool) {
			optimize = "true"
		}
		return models.RawParams{
			Owner:    "aerogear",
			Repo:     "aerogear-js",
			Ref:      "master",
			Include:  strings.Join(vals[0].([]string), ","),
			Exclude:  strings.Join(vals[1].([]string), ","),
			Optimize: optimize,
			Name:     vals[3].(string),
			Filter:   vals[4].(string),
		}
	})
}

// reverseList reverses a comma separated list.
func reverseList(s string) string {
	parts := strings.Split(s, ",")
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ",")
}

func digestOf(t *testing.T, raw models.RawParams) string {
	cfg, err := normalize.Normalize(raw, normalize.DefaultOptions())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	key, err := Digest(cfg, raw.Filter)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	return key
}

// TestDigestDeterminism checks digest(normalize(C)) == digest(normalize(permute(C))).
func TestDigestDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("reordered lists produce the same key", prop.ForAll(
		func(raw models.RawParams) bool {
			permuted := raw
			permuted.Include = reverseList(raw.Include)
			permuted.Exclude = reverseList(raw.Exclude)
			a := digestOf(t, raw)
			return a == digestOf(t, permuted) && IsValidKey(a)
		},
		genRawParams(),
	))

	properties.TestingRun(t)
}

// TestDigestSensitivity checks that optimize and list membership change the key.
func TestDigestSensitivity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("toggling optimize changes the key", prop.ForAll(
		func(raw models.RawParams) bool {
			toggled := raw
			if raw.Optimize == "" {
				toggled.Optimize = "true"
			} else {
				toggled.Optimize = ""
			}
			return digestOf(t, raw) != digestOf(t, toggled)
		},
		genRawParams(),
	))

	properties.Property("adding an included module changes the key", prop.ForAll(
		func(raw models.RawParams) bool {
			extended := raw
			extended.Include = raw.Include + ",extra-module"
			return digestOf(t, raw) != digestOf(t, extended)
		},
		genRawParams(),
	))

	properties.Property("adding an excluded module changes the key", prop.ForAll(
		func(raw models.RawParams) bool {
			extended := raw
			extended.Exclude = raw.Exclude + ",extra-module"
			return digestOf(t, raw) != digestOf(t, extended)
		},
		genRawParams(),
	))

	properties.TestingRun(t)
}

func TestDigestOutputNameOnlyMattersForArchives(t *testing.T) {
	base := models.RawParams{Owner: "o", Repo: "r", Ref: "main", Include: "a,b"}

	rawA, rawB := base, base
	rawA.Name, rawB.Name = "one.js", "two.js"
	if digestOf(t, rawA) != digestOf(t, rawB) {
		t.Error("raw script builds differing only in output name must share a key")
	}

	rawA.Name, rawB.Name = "one.zip", "two.zip"
	if digestOf(t, rawA) == digestOf(t, rawB) {
		t.Error("archive builds differing in output name must not share a key")
	}
}

func TestDigestFilterAndMime(t *testing.T) {
	base := models.RawParams{Owner: "o", Repo: "r", Ref: "main"}

	withFilter := base
	withFilter.Filter = "banner"
	if digestOf(t, base) == digestOf(t, withFilter) {
		t.Error("filter must change the key")
	}

	unfiltered := base
	unfiltered.Name = "bannerx.zip"
	filtered := base
	filtered.Name = "x.zip"
	filtered.Filter = "banner"
	if digestOf(t, unfiltered) == digestOf(t, filtered) {
		t.Error("filter and archive name must not run together in the key")
	}

	css := base
	css.Name = "r.css"
	if digestOf(t, base) == digestOf(t, css) {
		t.Error("MIME type must change the key")
	}

	otherRepo := base
	otherRepo.Repo = "other"
	otherRepo.Name = "r.js"
	sameName := base
	sameName.Name = "r.js"
	if digestOf(t, sameName) == digestOf(t, otherRepo) {
		t.Error("source repository must change the key")
	}
}

// TestDigestFilterArchiveNameBoundary checks that moving a filter id into
// the archive name always yields a different key.
func TestDigestFilterArchiveNameBoundary(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("digest(filter=f, name=n) != digest(filter=\"\", name=f+n)", prop.ForAll(
		func(f, base string) bool {
			n := base + ".zip"
			withFilter := models.RawParams{Owner: "o", Repo: "r", Ref: "main", Name: n, Filter: f}
			merged := models.RawParams{Owner: "o", Repo: "r", Ref: "main", Name: f + n}
			return digestOf(t, withFilter) != digestOf(t, merged)
		},
		gen.OneConstOf("banner", "strip-sourcemap", "identity"),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

func TestDigestNilConfig(t *testing.T) {
	if _, err := Digest(nil, ""); err != ErrNilConfig {
		t.Errorf("err = %v, want ErrNilConfig", err)
	}
}
