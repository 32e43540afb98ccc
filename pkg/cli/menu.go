package cli

import (
    "bufio"
    "context"
    "fmt"
    "io"
    "strconv"
    "strings"

    "github.com/spf13/cobra"

    "github.com/amirimatin/replprobe/pkg/experiment"
    "github.com/amirimatin/replprobe/pkg/harness"
    "github.com/amirimatin/replprobe/pkg/report"
    "github.com/amirimatin/replprobe/pkg/transport"
)

var partTitles = map[string]string{
    "A": "Part A: Basic Setup",
    "B": "Part B: Replication Strategy Experiment",
    "C": "Part C: Consistency Model Experiment",
}

// menuChoice is one numbered menu entry: a single scenario or a whole part.
type menuChoice struct {
    label    string
    scenario string
    part     string
}

// menuChoices numbers the catalog in order, then adds "run all" entries for
// parts B and C.
func menuChoices() []menuChoice {
    var out []menuChoice
    for _, sc := range experiment.Catalog() {
        out = append(out, menuChoice{label: sc.Title, scenario: sc.Name})
    }
    out = append(out,
        menuChoice{label: "Run all Part B experiments", part: "B"},
        menuChoice{label: "Run all Part C experiments", part: "C"},
    )
    return out
}

func printMenu(w io.Writer, choices []menuChoice) {
    fmt.Fprintln(w, "\nExperiment menu:")
    fmt.Fprintln(w, strings.Repeat("-", 70))
    section := ""
    for i, c := range choices {
        heading := "Comprehensive"
        if c.scenario != "" {
            sc, _ := experiment.Lookup(c.scenario)
            heading = partTitles[sc.Part]
        }
        if heading != section {
            if section != "" { fmt.Fprintln(w) }
            fmt.Fprintf(w, "  %s\n", heading)
            section = heading
        }
        fmt.Fprintf(w, "    %d. %s\n", i+1, c.label)
    }
    fmt.Fprintln(w, "\n    Q. Exit")
    fmt.Fprintln(w, strings.Repeat("-", 70))
}

// newMenuCmd returns the interactive "menu" command.
func newMenuCmd(g *globals) *cobra.Command {
    return &cobra.Command{
        Use:   "menu",
        Short: "Interactive numbered experiment menu",
        Args:  cobra.NoArgs,
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg, err := g.load()
            if err != nil { return err }
            ctx, cancel := signalContext()
            defer cancel()
            h, cleanup, err := g.session(ctx, cfg)
            if err != nil { return err }
            defer cleanup()
            return runMenu(ctx, h, cmd.InOrStdin(), cmd.OutOrStdout(), g.printer(cmd.OutOrStdout()))
        },
    }
}

// runMenu reads choices until Q, end of input or cancellation. Scenario
// failures are printed and the menu continues.
func runMenu(ctx context.Context, h *harness.Harness, in io.Reader, out io.Writer, p *report.Printer) error {
    choices := menuChoices()
    sc := bufio.NewScanner(in)
    for {
        printMenu(out, choices)
        fmt.Fprintf(out, "\nPlease select the operation (1-%d, Q): ", len(choices))
        if !sc.Scan() {
            fmt.Fprintln(out)
            return sc.Err()
        }
        if ctx.Err() != nil { return nil }
        input := strings.ToUpper(strings.TrimSpace(sc.Text()))
        if input == "Q" {
            fmt.Fprintln(out, "\nGoodbye!")
            return nil
        }
        n, err := strconv.Atoi(input)
        if err != nil || n < 1 || n > len(choices) {
            fmt.Fprintln(out, "\nInvalid choice, please try again")
            continue
        }
        menuRun(ctx, h, choices[n-1], p)
    }
}

func menuRun(ctx context.Context, h *harness.Harness, c menuChoice, p *report.Printer) {
    if c.scenario != "" {
        res, err := h.RunScenario(ctx, c.scenario)
        p.Result(c.label, res)
        if err != nil { p.Error(err) }
        return
    }
    if c.part == "B" {
        if t, err := h.Topology(ctx); err == nil { p.Topology(t) } else { p.Error(err) }
    }
    resp, err := h.Run(ctx, transport.RunRequest{Names: h.Part(c.part)})
    if err != nil {
        p.Error(err)
        return
    }
    printSuite(p, resp.Suite)
}
