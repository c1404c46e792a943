package terms

// Vocabulary holds the tunable word lists behind term extraction. The lists are
// configuration: a tuning file may replace any of them.
type Vocabulary struct {
	Stopwords         []string            `yaml:"stopwords"`
	Geography         []string            `yaml:"geography"`
	Metrics           []string            `yaml:"metrics"`
	AdjectiveSuffixes []string            `yaml:"adjective_suffixes"`
	SuffixExceptions  []string            `yaml:"suffix_exceptions"`
	Bridges           map[string][]string `yaml:"bridges"`
	MaxTerms          int                 `yaml:"max_terms"`
}

// DefaultMaxTerms caps both the search and the required term sets.
const DefaultMaxTerms = 40

// DefaultVocabulary returns the built-in lists.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Stopwords: []string{
			"the", "a", "an", "is", "are", "was", "were", "be", "been", "being",
			"have", "has", "had", "do", "does", "did", "will", "would", "could", "should",
			"may", "might", "can", "shall", "must", "to", "of", "in", "for", "on", "with",
			"at", "by", "from", "as", "into", "through", "during", "before", "after",
			"what", "where", "when", "how", "which", "who", "whom", "why", "this", "that",
			"these", "those", "i", "me", "my", "we", "our", "us", "you", "your", "it", "its",
			"and", "but", "or", "not", "no", "nor", "if", "then", "than", "so", "about",
			"between", "any", "some", "there", "their", "they", "them", "all", "also",
			"tell", "show", "give", "find", "list", "explain", "describe", "please",
			"know", "want", "need", "like", "get", "let", "lets", "whats", "hows",
		},
		Geography: []string{
			"africa", "asia", "europe", "oceania", "antarctica",
			"north america", "south america", "latin america", "middle east", "southeast asia",
			"gulf", "gcc", "apac", "emea", "mena", "nordics", "scandinavia", "balkans",
			"united states", "usa", "america", "canada", "mexico", "brazil", "argentina",
			"chile", "colombia", "peru", "united kingdom", "uk", "britain", "england",
			"scotland", "ireland", "france", "germany", "italy", "spain", "portugal",
			"netherlands", "belgium", "switzerland", "austria", "sweden", "norway",
			"denmark", "finland", "poland", "greece", "turkey", "russia", "ukraine",
			"israel", "jordan", "lebanon", "egypt", "saudi arabia", "uae", "qatar",
			"kuwait", "oman", "bahrain", "iran", "iraq", "morocco", "nigeria", "kenya",
			"south africa", "ethiopia", "ghana", "india", "pakistan", "bangladesh",
			"china", "japan", "korea", "south korea", "taiwan", "hong kong", "singapore",
			"malaysia", "indonesia", "thailand", "vietnam", "philippines", "australia",
			"new zealand", "london", "paris", "berlin", "new york", "los angeles",
			"tokyo", "shanghai", "beijing", "dubai", "riyadh", "amman", "mumbai",
		},
		Metrics: []string{
			"percent", "percentage", "statistic", "statistics", "market share",
			"cagr", "roi", "billion", "million",
		},
		AdjectiveSuffixes: []string{"ian", "ean", "ese"},
		SuffixExceptions: []string{
			"median", "guardian", "comedian", "technician", "librarian", "ocean",
			"cheese", "these", "obese", "vegetarian", "civilian", "pedestrian",
			"musician", "physician", "politician", "electrician", "historian",
			"custodian", "christian", "mediterranean", "caribbean", "utilitarian",
			"veterinarian", "humanitarian", "millennian", "agrarian",
		},
		Bridges: map[string][]string{
			"pop":      {"popup", "pop up"},
			"commerce": {"ecommerce", "e commerce"},
			"channel":  {"omnichannel", "omni channel"},
			"stream":   {"livestream", "live stream", "livestreaming", "live streaming"},
			"wellness": {"wellbeing", "well being"},
			"resale":   {"recommerce", "re commerce"},
		},
		MaxTerms: DefaultMaxTerms,
	}
}

// Override returns v with every non-empty field of o taking its place.
func (v Vocabulary) Override(o Vocabulary) Vocabulary {
	if len(o.Stopwords) > 0 {
		v.Stopwords = o.Stopwords
	}
	if len(o.Geography) > 0 {
		v.Geography = o.Geography
	}
	if len(o.Metrics) > 0 {
		v.Metrics = o.Metrics
	}
	if len(o.AdjectiveSuffixes) > 0 {
		v.AdjectiveSuffixes = o.AdjectiveSuffixes
	}
	if len(o.SuffixExceptions) > 0 {
		v.SuffixExceptions = o.SuffixExceptions
	}
	if len(o.Bridges) > 0 {
		v.Bridges = o.Bridges
	}
	if o.MaxTerms > 0 {
		v.MaxTerms = o.MaxTerms
	}
	return v
}
