// Package prompt assembles generation prompts, injecting retrieved
// best-practice examples under strict count, length, and token budgets.
package prompt

// #region imports
import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/documind/targetopt/internal/config"
)

// #endregion

// #region types

// Example is one archived original/rewritten pair injected for style and
// tone reference.
type Example struct {
	Original  string
	Rewritten string
}

// Bundle is the assembled prompt for a single attempt. Built fresh per
// attempt and discarded after use.
type Bundle struct {
	Instruction     string
	SourceText      string
	Examples        []Example
	EstimatedTokens int
}

// #endregion

// #region assembler

// Assembler builds prompt bundles under configured budgets.
type Assembler struct {
	maxExamples   int
	maxExampleLen int
	maxTokens     int
}

// NewAssembler creates an assembler from pipeline configuration.
func NewAssembler(cfg config.Config) *Assembler {
	return &Assembler{
		maxExamples:   cfg.MaxExamples,
		maxExampleLen: cfg.MaxSingleExampleLen,
		maxTokens:     cfg.MaxExampleTokens,
	}
}

// #endregion

// #region build

// Build assembles a bundle. At most maxExamples examples are injected, each
// truncated to maxExampleLen combined characters; when the aggregate token
// estimate exceeds maxTokens, the longest examples are excluded first.
func (a *Assembler) Build(instruction, sourceText string, examples []Example) Bundle {
	if len(examples) > a.maxExamples {
		examples = examples[:a.maxExamples]
	}

	kept := make([]Example, 0, len(examples))
	for _, ex := range examples {
		kept = append(kept, truncateExample(ex, a.maxExampleLen))
	}

	// Budget pass: drop the longest example until the estimate fits, so
	// shorter examples survive.
	for len(kept) > 0 && totalTokens(kept) > a.maxTokens {
		longest := 0
		for i, ex := range kept {
			if exampleLen(ex) > exampleLen(kept[longest]) {
				longest = i
			}
		}
		kept = append(kept[:longest], kept[longest+1:]...)
	}

	return Bundle{
		Instruction:     instruction,
		SourceText:      sourceText,
		Examples:        kept,
		EstimatedTokens: totalTokens(kept),
	}
}

// truncateExample trims the combined example text from the end: the
// rewritten side is cut first, then the original. Lengths are measured in
// runes, never bytes; a cut must not split a multibyte character.
func truncateExample(ex Example, maxLen int) Example {
	orig := []rune(ex.Original)
	rew := []rune(ex.Rewritten)
	over := len(orig) + len(rew) - maxLen
	if over <= 0 {
		return ex
	}
	if cut := len(rew); cut >= over {
		ex.Rewritten = string(rew[:cut-over])
		return ex
	}
	over -= len(rew)
	ex.Rewritten = ""
	if over < len(orig) {
		ex.Original = string(orig[:len(orig)-over])
	} else {
		ex.Original = ""
	}
	return ex
}

// #endregion

// #region tokens

// estimateTokens approximates token count at four characters per token.
func estimateTokens(s string) int {
	return (len([]rune(s)) + 3) / 4
}

func exampleLen(ex Example) int {
	return utf8.RuneCountInString(ex.Original) + utf8.RuneCountInString(ex.Rewritten)
}

func totalTokens(examples []Example) int {
	total := 0
	for _, ex := range examples {
		total += estimateTokens(ex.Original) + estimateTokens(ex.Rewritten)
	}
	return total
}

// #endregion

// #region render

// Render produces the final prompt text. Instruction, examples, and source
// live in separately labeled blocks; examples are framed as style and tone
// references only, never as content to copy. When no examples were
// injected, the example section is omitted entirely.
func (b Bundle) Render() string {
	var sb strings.Builder
	sb.WriteString("[INSTRUCTION]\n")
	sb.WriteString(b.Instruction)
	sb.WriteString("\n")

	if len(b.Examples) > 0 {
		sb.WriteString("\n[STYLE REFERENCES]\n")
		sb.WriteString("The following past rewrites show the expected style and tone.\n")
		sb.WriteString("Do NOT copy their content; they are references only.\n")
		for i, ex := range b.Examples {
			fmt.Fprintf(&sb, "\n[REFERENCE %d — ORIGINAL]\n%s\n", i+1, ex.Original)
			fmt.Fprintf(&sb, "[REFERENCE %d — REWRITTEN]\n%s\n", i+1, ex.Rewritten)
		}
	}

	sb.WriteString("\n[SOURCE TEXT]\n")
	sb.WriteString(b.SourceText)
	return sb.String()
}

// #endregion
