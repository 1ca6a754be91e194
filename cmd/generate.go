package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"disclosure_report_drafter/extract"
	"disclosure_report_drafter/generator"
)

var genOpts struct {
	standards []string
	company   string
	period    string
	length    int
	tone      string
	tables    bool
	charts    bool
	webSearch bool
	text      string
	textFile  string
	files     []string
	urls      []string
	out       string
	pretty    bool
	chat      bool
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a report draft and optionally refine it interactively",
	Args:  cobra.NoArgs,
	RunE:  runGenerate,
}

func init() {
	f := generateCmd.Flags()
	f.StringSliceVar(&genOpts.standards, "standard", nil, "reporting standard identifier (repeatable)")
	f.StringVar(&genOpts.company, "company", "", "reporting entity")
	f.StringVar(&genOpts.period, "period", "", "reporting period")
	f.IntVar(&genOpts.length, "length", 3000, "target length in characters")
	f.StringVar(&genOpts.tone, "tone", string(generator.ToneFormal), "formal|neutral|concise|persuasive")
	f.BoolVar(&genOpts.tables, "tables", false, "present key metrics as tables")
	f.BoolVar(&genOpts.charts, "charts", false, "suggest charts")
	f.BoolVar(&genOpts.webSearch, "web-search", false, "let the model ground on web search")
	f.StringVar(&genOpts.text, "text", "", "inline company material")
	f.StringVar(&genOpts.textFile, "text-file", "", "file holding company material")
	f.StringSliceVar(&genOpts.files, "file", nil, "attachment path (repeatable)")
	f.StringSliceVar(&genOpts.urls, "url", nil, "reference URL (repeatable)")
	f.StringVarP(&genOpts.out, "out", "o", "", "write the final draft to this path")
	f.BoolVar(&genOpts.pretty, "pretty", false, "render the final draft for the terminal instead of streaming")
	f.BoolVar(&genOpts.chat, "chat", false, "continue with an interactive revision session")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	agent, cfg, err := buildAgent(ctx)
	if err != nil {
		return err
	}

	params := generator.ReportParams{
		Company:       genOpts.company,
		Period:        genOpts.period,
		Standards:     genOpts.standards,
		Length:        genOpts.length,
		Tone:          generator.Tone(genOpts.tone).Normalize(),
		IncludeTables: genOpts.tables,
		IncludeCharts: genOpts.charts,
		UseWebSearch:  genOpts.webSearch,
	}
	if err := params.Validate(); err != nil {
		return err
	}
	material, err := readMaterial(genOpts.text, genOpts.textFile, genOpts.files, genOpts.urls)
	if err != nil {
		return err
	}

	sess := generator.NewSession(uuid.NewString(), params, agent)
	out := cmd.OutOrStdout()

	var onPartial func(string)
	p := &deltaPrinter{w: out}
	if !genOpts.pretty {
		onPartial = p.print
	}
	gctx, cancel := context.WithTimeout(ctx, cfg.Generation.Timeout())
	draft, err := sess.Propose(gctx, material, onPartial)
	cancel()
	if err != nil {
		p.finish()
		fmt.Fprintln(cmd.ErrOrStderr(), generator.UserMessage(err))
		return err
	}
	p.finish()

	if genOpts.pretty {
		if err := printPretty(out, draft.Markdown); err != nil {
			return err
		}
	}
	if genOpts.out != "" {
		if err := os.WriteFile(genOpts.out, []byte(draft.Markdown), 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "draft written to %s\n", genOpts.out)
	}
	if genOpts.chat {
		return runChat(cmd, sess, cfg.Generation.Timeout())
	}
	return nil
}

func readMaterial(text, textFile string, files, urls []string) (generator.SourceMaterial, error) {
	m := generator.SourceMaterial{RawText: text, URLs: urls}
	if textFile != "" {
		data, err := os.ReadFile(textFile)
		if err != nil {
			return m, err
		}
		m.RawText = strings.TrimSpace(m.RawText + "\n\n" + string(data))
	}
	for _, path := range files {
		f, err := readFile(path)
		if err != nil {
			return m, err
		}
		m.Files = append(m.Files, f)
	}
	return m, nil
}

func readFile(path string) (extract.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return extract.File{}, err
	}
	name := filepath.Base(path)
	return extract.File{Name: name, MIMEType: extract.MediaType(name, ""), Data: data}, nil
}

func printPretty(w io.Writer, md string) error {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return err
	}
	s, err := r.Render(md)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, s)
	return err
}

// deltaPrinter prints complete-so-far text as it grows. Text that does not
// extend what was printed starts on a fresh line.
type deltaPrinter struct {
	w       io.Writer
	printed string
}

func (p *deltaPrinter) print(text string) {
	if rest, ok := strings.CutPrefix(text, p.printed); ok {
		io.WriteString(p.w, rest)
	} else {
		io.WriteString(p.w, "\n"+text)
	}
	p.printed = text
}

func (p *deltaPrinter) finish() {
	if p.printed != "" && !strings.HasSuffix(p.printed, "\n") {
		io.WriteString(p.w, "\n")
	}
	p.printed = ""
}
