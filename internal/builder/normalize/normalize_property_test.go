package normalize

import (
	"encoding/json"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/narvanalabs/jsbuilder/internal/models"
)

// genModuleList generates comma separated module lists.
func genModuleList() gopter.Gen {
	return gen.SliceOfN(5, gen.OneConstOf(
		"main", "core", "pipeline", "pipeline/rest", "data-manager",
		"notifier", "auth", "utilities", "crypto", "oauth2",
	)).Map(func(mods []string) string {
		return strings.Join(mods, ",")
	})
}

// shuffleList reorders a comma separated list using the given seed and adds
// stray whitespace.
func shuffleList(list string, seed int64) string {
	parts := strings.Split(list, ",")
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(parts), func(i, j int) { parts[i], parts[j] = parts[j], parts[i] })
	for i := range parts {
		if r.Intn(2) == 0 {
			parts[i] = " " + parts[i]
		}
	}
	return strings.Join(parts, ",")
}

// TestNormalizePermutationInvariance checks that reordering list parameters
// never changes the serialized configuration.
func TestNormalizePermutationInvariance(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("permuted lists normalize to identical bytes", prop.ForAll(
		func(include, exclude, external string, optimize bool, seed int64) bool {
			flag := "false"
			if optimize {
				flag = "true"
			}
			a := models.RawParams{
				Owner: "aerogear", Repo: "aerogear-js", Ref: "master",
				Include: include, Exclude: exclude, External: external, Optimize: flag,
				Pragmas: `{"b":true,"a":false}`,
			}
			b := a
			b.Include = shuffleList(include, seed)
			b.Exclude = shuffleList(exclude, seed+1)
			b.External = shuffleList(external, seed+2)
			b.Pragmas = `{ "a": false, "b": true }`

			ca, err := Normalize(a, DefaultOptions())
			if err != nil {
				return false
			}
			cb, err := Normalize(b, DefaultOptions())
			if err != nil {
				return false
			}

			ja, _ := json.Marshal(ca)
			jb, _ := json.Marshal(cb)
			return string(ja) == string(jb) && ca.MimeType == cb.MimeType && ca.OutputExt == cb.OutputExt
		},
		genModuleList(),
		genModuleList(),
		genModuleList(),
		gen.Bool(),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// TestNormalizeListsAreSortedSets checks that include and exclude never
// contain duplicates and, without externals, are sorted.
func TestNormalizeListsAreSortedSets(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("lists are sorted and unique", prop.ForAll(
		func(include, exclude string) bool {
			cfg, err := Normalize(models.RawParams{
				Owner: "o", Repo: "r", Ref: "main", Include: include, Exclude: exclude,
			}, DefaultOptions())
			if err != nil {
				return false
			}
			for _, list := range [][]string{cfg.Include, cfg.Exclude} {
				seen := map[string]bool{}
				for i, v := range list {
					if seen[v] {
						return false
					}
					seen[v] = true
					if i > 0 && list[i-1] > v {
						return false
					}
				}
			}
			return len(cfg.Include) > 0
		},
		genModuleList(),
		genModuleList(),
	))

	properties.TestingRun(t)
}

func TestNormalizeExternalOrdering(t *testing.T) {
	raw := models.RawParams{Owner: "o", Repo: "r", Ref: "main", Include: "b,a", External: "z,y,a"}

	first, err := Normalize(raw, Options{ExternalFirst: true})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if want := []string{"a", "y", "z", "b"}; !reflect.DeepEqual(first.Include, want) {
		t.Errorf("external first: include = %v, want %v", first.Include, want)
	}

	last, err := Normalize(raw, Options{ExternalFirst: false})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if want := []string{"a", "b", "y", "z"}; !reflect.DeepEqual(last.Include, want) {
		t.Errorf("external last: include = %v, want %v", last.Include, want)
	}
	if first.ExternalFirst == last.ExternalFirst {
		t.Error("ExternalFirst must be recorded in the config")
	}
}
