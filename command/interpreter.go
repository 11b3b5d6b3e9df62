package command

import (
	"strings"
	"time"
	"unicode"
)

// Thresholds are the confidence gates applied during interpretation.
// Destructive must be strictly above General; both are calibration values
// from config, not constants.
type Thresholds struct {
	General     float64
	Destructive float64
}

type pattern struct {
	kind     Kind
	keywords []string // every keyword must match a token (possibly fuzzily)
	aliases  []string // full-phrase alternatives matched against the whole text
}

var vocabulary = []pattern{
	{
		kind:     AnalyzeProject,
		keywords: []string{"analyze", "project"},
		aliases:  []string{"analyze the project", "run analysis", "analyze codebase"},
	},
	{
		kind:     RefreshDashboard,
		keywords: []string{"refresh", "dashboard"},
		aliases:  []string{"refresh the dashboard", "reload dashboard", "update the dashboard"},
	},
	{
		kind:     CreateTask,
		keywords: []string{"create", "task"},
		aliases:  []string{"new task", "add a task", "make a task"},
	},
	{
		kind:     MoveTask,
		keywords: []string{"move", "task"},
		aliases:  []string{"move the task", "move card", "move everything"},
	},
	{
		kind:     DeleteTask,
		keywords: []string{"delete", "task"},
		aliases:  []string{"delete the task", "remove task", "delete everything"},
	},
	{
		kind:     Navigate,
		keywords: []string{"go", "to"},
		aliases:  []string{"open the board", "show the board", "go to settings", "open settings"},
	},
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "please": true, "my": true,
	"me": true, "now": true, "this": true, "that": true,
}

// Interpreter is a pure transcript-to-Command mapping; it holds only the
// configured thresholds.
type Interpreter struct {
	thresholds Thresholds
}

func NewInterpreter(t Thresholds) *Interpreter {
	return &Interpreter{thresholds: t}
}

// Interpret maps a final transcript and its recognition confidence to a
// Command. The effective confidence is the recognition confidence scaled by
// lexical match quality; it must clear the general gate, and the destructive
// gate for destructive kinds — otherwise the result is Unknown. An exact
// lexical match never overrides the destructive gate.
func (i *Interpreter) Interpret(transcript string, confidence float64) Command {
	now := time.Now()
	unknown := Command{Kind: Unknown, Confidence: confidence, Origin: OriginVoice, Timestamp: now}

	text := clean(transcript)
	if text == "" {
		return unknown
	}
	tokens := tokenize(text)

	bestKind := Unknown
	bestScore := 0.0
	for _, p := range vocabulary {
		score := p.match(text, tokens)
		if score > bestScore {
			bestScore = score
			bestKind = p.kind
		}
	}
	if bestKind == Unknown {
		return unknown
	}

	effective := confidence * bestScore
	gate := i.thresholds.General
	if bestKind.Destructive() {
		gate = i.thresholds.Destructive
	}
	if effective < gate {
		return unknown
	}

	return Command{
		Kind:       bestKind,
		Parameters: extractParameters(bestKind, text, tokens),
		Confidence: effective,
		Origin:     OriginVoice,
		Timestamp:  now,
	}
}

// match scores the pattern against the transcript: 0 for no match, up to 1.0
// for an exact alias or full keyword hit.
func (p pattern) match(text string, tokens []string) float64 {
	best := 0.0
	for _, alias := range p.aliases {
		if sim := similarity(text, clean(alias)); sim >= 0.8 && sim > best {
			best = sim
		}
	}

	hits := 0.0
	complete := true
	for _, kw := range p.keywords {
		kwBest := 0.0
		for _, tok := range tokens {
			if s := similarity(tok, kw); s > kwBest {
				kwBest = s
			}
		}
		if kwBest < 0.7 {
			complete = false // a missing keyword disqualifies the keyword path
			break
		}
		hits += kwBest
	}
	if complete && len(p.keywords) > 0 {
		if score := hits / float64(len(p.keywords)); score > best {
			best = score
		}
	}
	return best
}

// extractParameters pulls the kind-specific payload out of the transcript.
func extractParameters(kind Kind, text string, tokens []string) map[string]string {
	params := map[string]string{}
	switch kind {
	case CreateTask:
		if title := after(text, "task"); title != "" {
			params["title"] = title
		}
	case MoveTask:
		// "move <task> to <column>"
		if dest := after(text, "to"); dest != "" {
			params["to"] = dest
		}
	case Navigate:
		if dest := after(text, "to"); dest != "" {
			params["destination"] = dest
		} else if len(tokens) > 0 {
			params["destination"] = tokens[len(tokens)-1]
		}
	}
	return params
}

// after returns the trimmed remainder of text following the first occurrence
// of the given word.
func after(text, word string) string {
	idx := strings.Index(text, " "+word+" ")
	if idx < 0 {
		return ""
	}
	rest := strings.TrimSpace(text[idx+len(word)+2:])
	words := strings.Fields(rest)
	var kept []string
	for _, w := range words {
		if !stopWords[w] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

func clean(text string) string {
	text = strings.ToLower(text)
	text = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, text)
	return strings.Join(strings.Fields(text), " ")
}

func tokenize(text string) []string {
	var tokens []string
	for _, w := range strings.Fields(text) {
		if len(w) > 1 && !stopWords[w] {
			tokens = append(tokens, w)
		}
	}
	return tokens
}

// similarity blends containment and edit distance into a 0-1 score.
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		shorter, longer := a, b
		if len(a) > len(b) {
			shorter, longer = b, a
		}
		return float64(len(shorter)) / float64(len(longer))
	}
	dist := levenshtein(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	score := 1.0 - float64(dist)/float64(maxLen)
	if score < 0 {
		return 0
	}
	return score
}

func levenshtein(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)
	for j := 0; j <= len(s2); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(s2)]
}
