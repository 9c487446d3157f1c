package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/fabula/internal/models"
)

// terminalPrompter answers suspended tasks from stdin. With yolo set, every
// prompt that has no usable answer is declined instead of blocking.
type terminalPrompter struct {
	yolo   bool
	reader *bufio.Reader
}

// Prompt shows the task's request and reads one line. An empty line (or yolo
// mode, which cannot invent a URL) skips the task.
func (p *terminalPrompter) Prompt(task *models.Task) (string, bool, error) {
	if p.yolo {
		return "", true, nil
	}
	if p.reader == nil {
		p.reader = bufio.NewReader(os.Stdin)
	}

	prompt := "Input required"
	if task.UserInput != nil && task.UserInput.Prompt != "" {
		prompt = task.UserInput.Prompt
	}

	fmt.Printf("\n%s\n", prompt)
	if task.UserInput != nil {
		for i, option := range task.UserInput.Options {
			fmt.Printf("  %d) %s\n", i+1, option)
		}
	}
	fmt.Print("> (empty to skip) ")

	line, err := p.reader.ReadString('\n')
	if err != nil {
		return "", false, err
	}

	response := strings.TrimSpace(line)
	if response == "" {
		return "", true, nil
	}
	return response, false, nil
}
