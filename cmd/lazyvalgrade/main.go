// Command lazyvalgrade rewrites every lazy val it finds under a directory
// of .class files to the memory-handle-based representation a 3.8 compiler
// would have emitted, leaving everything else untouched.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval/group"
	"github.com/lazyvalgrade/lazyvalgrade/pkg/lazyval/patch"
)

var (
	styleOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleSkip   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleFailed = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lazyvalgrade <dir>",
	Short: "Upgrade legacy lazy-val bytecode to memory-handle form in place.",
	Long: "lazyvalgrade walks a directory of .class files, groups nested " +
		"singleton classes with their companions, and rewrites any lazy val " +
		"still using a pre-3.8 implementation to the 3.8 memory-handle form.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			log.SetLevel(log.DebugLevel)
		}
		jobs, _ := cmd.Flags().GetInt("jobs")
		return run(args[0], jobs)
	},
}

func init() {
	rootCmd.Flags().Bool("verbose", false, "enable debug logging of detection/patch decisions")
	rootCmd.Flags().Int("jobs", 1, "number of groups to patch concurrently")
}

func run(root string, jobs int) error {
	byName, nameToPath, err := walkClassFiles(root)
	if err != nil {
		return err
	}
	groups, err := group.Group(byName)
	if err != nil {
		return err
	}

	if jobs < 1 {
		jobs = 1
	}
	sem := make(chan struct{}, jobs)
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := false

	for _, g := range groups {
		g := g
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := patch.Patch(g)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fmt.Println(styleFailed.Render(fmt.Sprintf("ERROR  %s: %v", g.Name(), err)))
				failed = true
				return
			}
			if !reportResult(g, result, nameToPath) {
				failed = true
			}
		}()
	}
	wg.Wait()

	if failed {
		return fmt.Errorf("lazyvalgrade: one or more groups failed to patch")
	}
	return nil
}

// reportResult writes any patched bytes back to disk and prints a colored
// status line, returning false if the group failed.
func reportResult(g *lazyval.ClassGroup, result *patch.Result, nameToPath map[string]string) bool {
	switch result.Kind {
	case patch.NotApplicable:
		fmt.Println(styleSkip.Render(fmt.Sprintf("SKIP   %s", g.Name())))
		return true
	case patch.Patched:
		if err := writeBack(nameToPath, result.Name1, result.Bytes1); err != nil {
			fmt.Println(styleFailed.Render(fmt.Sprintf("ERROR  %s: %v", result.Name1, err)))
			return false
		}
		fmt.Println(styleOK.Render(fmt.Sprintf("PATCH  %s", result.Name1)))
		return true
	case patch.PatchedPair:
		if err := writeBack(nameToPath, result.Name1, result.Bytes1); err != nil {
			fmt.Println(styleFailed.Render(fmt.Sprintf("ERROR  %s: %v", result.Name1, err)))
			return false
		}
		if err := writeBack(nameToPath, result.Name2, result.Bytes2); err != nil {
			fmt.Println(styleFailed.Render(fmt.Sprintf("ERROR  %s: %v", result.Name2, err)))
			return false
		}
		fmt.Println(styleOK.Render(fmt.Sprintf("PATCH  %s + %s", result.Name1, result.Name2)))
		return true
	case patch.Failed:
		fmt.Println(styleFailed.Render(fmt.Sprintf("FAILED %s", g.Name())))
		if result.Err != nil {
			fmt.Fprintln(os.Stderr, result.Err)
		}
		return false
	default:
		return false
	}
}

func writeBack(nameToPath map[string]string, name string, data []byte) error {
	path, ok := nameToPath[name]
	if !ok {
		return fmt.Errorf("no source path recorded for %s", name)
	}
	return os.WriteFile(path, data, 0644)
}

// walkClassFiles collects every .class file under root, keyed by its
// internal class name (the path relative to root, slash-separated,
// extension stripped), alongside a name -> filesystem-path map used to
// write patched bytes back in place.
func walkClassFiles(root string) (map[string][]byte, map[string]string, error) {
	byName := map[string][]byte{}
	nameToPath := map[string]string{}

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".class") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.ToSlash(rel), ".class")
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		byName[name] = data
		nameToPath[name] = path
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return byName, nameToPath, nil
}
