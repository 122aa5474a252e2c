package matcher

import (
	"fmt"
	"log"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/fatih/color"
	progressbar "github.com/schollz/progressbar/v3"
)

// Displayer receives match progress. The engine calls it from multiple
// goroutines; implementations must tolerate concurrent UpdateProgress calls.
type Displayer interface {
	ShowProgress(total int)
	UpdateProgress(completed int)
	FinishProgress()
}

// NoopDisplay silences progress output; the default for library use.
type NoopDisplay struct{}

func (NoopDisplay) ShowProgress(int)   {}
func (NoopDisplay) UpdateProgress(int) {}
func (NoopDisplay) FinishProgress()    {}

var (
	cyan       = color.New(color.FgCyan, color.Bold).SprintFunc()
	label      = color.New(color.Bold, color.FgHiWhite).SprintFunc()
	success    = color.New(color.FgHiGreen).SprintFunc()
	errorColor = color.New(color.FgRed).SprintFunc()
	highlight  = color.New(color.FgMagenta).SprintFunc()
)

// Display renders progress and results on a terminal.
type Display struct {
	bar     *progressbar.ProgressBar
	verbose bool
	quiet   bool
}

func NewDisplay(verbose bool) *Display {
	return &Display{verbose: verbose}
}

func (d *Display) SetQuiet(quiet bool) { d.quiet = quiet }

func (d *Display) ShowProgress(total int) {
	if d.quiet {
		return
	}
	fmt.Println()
	d.bar = progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetDescription("[cyan][bold]Verifying pieces...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func (d *Display) UpdateProgress(completed int) {
	if d.bar != nil {
		if err := d.bar.Set(completed); err != nil {
			log.Printf("failed to update progress bar: %v", err)
		}
	}
}

func (d *Display) FinishProgress() {
	if d.bar != nil {
		if err := d.bar.Finish(); err != nil {
			log.Printf("failed to finish progress bar: %v", err)
		}
		fmt.Println()
	}
}

// ShowTorrentInfo prints the header for a match run.
func (d *Display) ShowTorrentInfo(name string, desc *Descriptor) {
	if d.quiet {
		return
	}
	fmt.Printf("\n%s\n", cyan("Torrent info:"))
	fmt.Printf("  %-13s %s\n", label("Name:"), name)
	fmt.Printf("  %-13s %s\n", label("Size:"), humanize.Bytes(uint64(desc.TotalLength())))
	fmt.Printf("  %-13s %s\n", label("Piece length:"), humanize.Bytes(uint64(desc.PieceLength)))
	fmt.Printf("  %-13s %d\n", label("Pieces:"), desc.NumPieces())
	fmt.Printf("  %-13s %d\n", label("Files:"), len(desc.Files))
}

// ShowMatchResult prints per-file locations and a summary line.
func (d *Display) ShowMatchResult(result *Result, bytesRead int64, elapsed time.Duration) {
	if d.quiet {
		return
	}

	matched := 0
	for _, f := range result.Files {
		if len(f.Locations) > 0 {
			matched++
		}
	}

	fmt.Printf("\n%s\n", cyan("Match result:"))
	for _, f := range result.Files {
		if len(f.Locations) == 0 {
			fmt.Printf("  %s %s (%s)\n", errorColor("✗"), f.Path, humanize.Bytes(uint64(f.Size)))
			continue
		}
		fmt.Printf("  %s %s (%s)\n", success("✓"), f.Path, humanize.Bytes(uint64(f.Size)))
		if d.verbose {
			for _, loc := range f.Locations {
				fmt.Printf("      %s\n", highlight(loc))
			}
		} else {
			fmt.Printf("      %s\n", highlight(f.Locations[0]))
			if extra := len(f.Locations) - 1; extra > 0 {
				fmt.Printf("      and %d more\n", extra)
			}
		}
	}

	fmt.Printf("\n  %-13s %d/%d files matched\n", label("Matched:"), matched, len(result.Files))
	fmt.Printf("  %-13s %s\n", label("Read:"), humanize.Bytes(uint64(bytesRead)))
	fmt.Printf("  %-13s %s\n", label("Elapsed:"), elapsed.Round(time.Millisecond))
}
