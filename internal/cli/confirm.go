package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// confirmSelfJump prompts the operator to approve a stage's jump to
// itself, per spec §4.3: "allowed only when ... interactive confirmation
// is granted". A non-interactive stdin (pipe, CI) always declines without
// prompting, since there is nobody to ask.
func confirmSelfJump(stageName string) bool {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return false
	}

	header := styleHeader.Render(fmt.Sprintf("stage %q jumps to itself", stageName))
	prompt := " — continue? [y/N]: "
	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 && width < len(stageName)+40 {
		// Narrow terminal: put the prompt on its own line instead of
		// running past the edge.
		fmt.Fprintln(os.Stderr, header)
		fmt.Fprint(os.Stderr, strings.TrimPrefix(prompt, " "))
	} else {
		fmt.Fprint(os.Stderr, header)
		fmt.Fprint(os.Stderr, prompt)
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
