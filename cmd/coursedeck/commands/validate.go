package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/coursedeck/coursedeck"
)

// ValidateCommand implements the validate command: it parses courseware HTML
// files and reports what the player would make of them.
func ValidateCommand(args []string) error {
	var files []string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			files = append(files, arg)
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("at least one HTML file required")
	}

	problems := 0
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			fmt.Printf("✗ %s: %v\n", file, err)
			problems++
			continue
		}

		cw := coursedeck.ParseHTML(string(data), filepath.Base(file), nil)
		fmt.Printf("✓ %s\n", file)
		fmt.Printf("    Title: %s\n", cw.Title)
		fmt.Printf("    Pages: %d\n", cw.PageCount())
		for _, p := range cw.Pages {
			fmt.Printf("      [%d] %-24s %s\n", p.Index, p.Title, p.SectionSelector)
		}

		if cw.PageCount() == 1 && cw.Pages[0].SectionSelector == "body" {
			fmt.Printf("    Note: no sections found; the whole document plays as one page\n")
		}
		if cw.Metadata != nil {
			fmt.Printf("    Metadata: subject=%s grade=%s author=%s\n",
				cw.Metadata.Subject, cw.Metadata.Grade, cw.Metadata.Author)
		}
		if refs := coursedeck.ScanAudioRefs(string(data)); len(refs) > 0 {
			fmt.Printf("    Audio refs: %d\n", len(refs))
		}
	}

	if problems > 0 {
		return fmt.Errorf("%d file(s) failed validation", problems)
	}
	return nil
}
