package intent

// Lexicons are matched case-insensitively as substrings. Kept deliberately
// short: false positives on rule 1 are safe (less recall), false negatives
// are caught by the numeric intensity check.

// distressLexicon marks acute distress regardless of the measured intensity.
var distressLexicon = []string{
	"can't do this anymore",
	"cannot do this anymore",
	"can't take this anymore",
	"i give up",
	"i want to disappear",
	"hurt myself",
	"end it all",
	"no way out",
	"falling apart",
}

// commitmentLexicon marks explicit or implicit references to past
// agreements. Implicit phrasings ("i thought we") matter as much as the
// explicit ones.
var commitmentLexicon = []string{
	"we agreed",
	"we had agreed",
	"i thought we",
	"you said",
	"you told me",
	"you promised",
	"we decided",
	"we said we would",
	"didn't we say",
	"last time we talked about",
	"remember when we",
}

// skipLexicon marks attempts to short-circuit the staged process.
var skipLexicon = []string{
	"skip this",
	"skip ahead",
	"can we skip",
	"move on already",
	"next stage",
	"get to the point",
	"jump ahead",
}
