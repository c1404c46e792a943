package terms

import (
	"reflect"
	"slices"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Pop-Up Stores":       "pop up stores",
		"  AI/ML   trends?! ": "ai ml trends",
		"Don't stop":          "dont stop",
		"Gen-Z's   favourite": "gen zs favourite",
		"":                    "",
		"Café Culture 2024":   "café culture 2024",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtract_Bridging(t *testing.T) {
	got := Default().Extract("pop-up stores", nil)
	for _, want := range []string{"pop", "up", "stores", "popup"} {
		if !slices.Contains(got.Search, want) {
			t.Errorf("search terms %v missing %q", got.Search, want)
		}
	}
	if len(got.Required) != 0 {
		t.Errorf("expected no required terms, got %v", got.Required)
	}
}

func TestExtract_BridgingConcatenatedForm(t *testing.T) {
	got := Default().Extract("ecommerce growth", nil)
	if !slices.Contains(got.Search, "commerce") {
		t.Errorf("expected root term commerce in %v", got.Search)
	}
}

func TestExtract_StopwordsAndShortTokens(t *testing.T) {
	got := Default().Extract("What are the trends in x retail?", nil)
	want := []string{"trends", "retail"}
	if !reflect.DeepEqual(got.Search, want) {
		t.Errorf("got %v, want %v", got.Search, want)
	}
}

func TestExtract_Dedupes(t *testing.T) {
	got := Default().Extract("retail Retail RETAIL", nil)
	if !reflect.DeepEqual(got.Search, []string{"retail"}) {
		t.Errorf("got %v", got.Search)
	}
}

func TestExtract_CapsTerms(t *testing.T) {
	v := DefaultVocabulary()
	v.MaxTerms = 3
	got := New(v).Extract("alpha bravo charlie delta echo", nil)
	if len(got.Search) != 3 {
		t.Errorf("expected 3 terms, got %v", got.Search)
	}
}

func TestExtract_RequiredTerms(t *testing.T) {
	cases := []struct {
		text string
		want []string
	}{
		{"Jordanian football club revenue", []string{"jordan"}},
		{"market share of sneakers in Japan", []string{"japan", "market share"}},
		{"Chinese consumers spend billion", []string{"billion", "chin"}},
		{"median basket size", nil},
		{"football club revenue", nil},
		{"Asian markets", nil},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			got := Default().Extract(tc.text, nil).Required
			if len(got) == 0 && len(tc.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestExtract_ExplicitTermsTakePrecedence(t *testing.T) {
	got := Default().Extract("Jordanian football", []string{"Market-Share", "  ", "of", "Loyalty"})
	want := []string{"market share", "loyalty"}
	if !reflect.DeepEqual(got.Search, want) {
		t.Errorf("search = %v, want %v", got.Search, want)
	}
	if !reflect.DeepEqual(got.Required, []string{"jordan"}) {
		t.Errorf("required terms must come from text, got %v", got.Required)
	}
}

func TestExtract_Empty(t *testing.T) {
	for _, text := range []string{"", "   ", "the of and", "?!"} {
		if got := Default().Extract(text, nil); !got.Empty() {
			t.Errorf("Extract(%q) should be empty, got %v", text, got.Search)
		}
	}
}

func TestMatches(t *testing.T) {
	cases := []struct {
		text, term string
		want       bool
	}{
		{"pop-up retail", "pop", true},
		{"population growth", "pop", false},
		{"the ai boom", "ai", true},
		{"retail trends", "ai", false},
		{"sustainability report", "sustain", true},
		{"k-pop", "pop", true},
		{"pop", "pop", true},
		{"", "pop", false},
		{"anything", "", false},
	}
	for _, tc := range cases {
		if got := Matches(tc.text, tc.term); got != tc.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tc.text, tc.term, got, tc.want)
		}
	}
}

func TestOverride(t *testing.T) {
	v := DefaultVocabulary().Override(Vocabulary{Geography: []string{"atlantis"}, MaxTerms: 5})
	if !reflect.DeepEqual(v.Geography, []string{"atlantis"}) || v.MaxTerms != 5 {
		t.Errorf("override not applied: %+v", v)
	}
	if len(v.Stopwords) == 0 {
		t.Errorf("stopwords should keep defaults")
	}
	got := New(v).Extract("Atlantis tourism", nil)
	if !slices.Contains(got.Required, "atlantis") {
		t.Errorf("expected atlantis required, got %v", got.Required)
	}
}
