package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"horse.fit/marketpulse/internal/batch"
)

type validateResult struct {
	Scanned  int
	Valid    int
	Invalid   int
	Posts     int
	Children  int
	Malformed int
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	dir := fs.String("dir", "testdata/batches", "Directory containing batch .json files; ignored when paths are given")
	recursive := fs.Bool("recursive", true, "Recursively scan subdirectories")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	paths := fs.Args()
	if len(paths) == 0 {
		paths = []string{strings.TrimSpace(*dir)}
	}
	files, err := batch.CollectFiles(paths, *recursive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation setup failed: %v\n", err)
		return 1
	}

	result := validateFiles(files, os.Stderr)
	fmt.Printf(
		"validate scanned=%d valid=%d invalid=%d posts=%d children=%d malformed=%d recursive=%t\n",
		result.Scanned,
		result.Valid,
		result.Invalid,
		result.Posts,
		result.Children,
		result.Malformed,
		*recursive,
	)

	if result.Scanned == 0 {
		fmt.Fprintf(os.Stderr, "Validation failed: no .json files found under %s\n", strings.Join(paths, ", "))
		return 1
	}
	if result.Invalid > 0 {
		return 1
	}
	return 0
}

// validateFiles decodes every file and reports failures to errOut. Malformed
// records are reported but leave their file valid; reconcile skips them.
func validateFiles(files []string, errOut io.Writer) validateResult {
	var result validateResult
	for _, path := range files {
		result.Scanned++
		b, err := batch.ReadFile(path)
		if err != nil {
			result.Invalid++
			fmt.Fprintf(errOut, "INVALID %v\n", err)
			continue
		}
		result.Valid++
		result.Posts += len(b.Posts)
		for _, post := range b.Posts {
			result.Children += len(post.Children)
			if post.Defect != "" {
				result.Malformed++
				fmt.Fprintf(errOut, "MALFORMED %s %s\n", path, post.Defect)
			}
			for _, child := range post.Children {
				if child.Defect != "" {
					result.Malformed++
					fmt.Fprintf(errOut, "MALFORMED %s %s\n", path, child.Defect)
				}
			}
		}
	}
	return result
}
