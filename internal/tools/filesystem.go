package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rahul/autopilot/internal/capability"
)

type FilesystemTool struct {
	Root string
}

func NewFilesystemTool(root string) *FilesystemTool {
	if root == "" {
		root = "."
	}
	absRoot, _ := filepath.Abs(root)
	return &FilesystemTool{Root: absRoot}
}

func (f *FilesystemTool) Name() string {
	return "filesystem"
}

func (f *FilesystemTool) Description() string {
	return "Manage files in the local workspace: read, write, append, list, delete, and mkdir."
}

func (f *FilesystemTool) Schema() capability.Schema {
	return capability.Schema{
		{Name: "command", Description: "read, write, append, list, delete or mkdir", Required: true},
		{Name: "path", Description: "file or directory relative to the workspace", Default: "."},
		{Name: "content", Description: "text to write (write and append only)", Default: ""},
	}
}

// resolve maps a workspace-relative path to an absolute one inside Root.
func (f *FilesystemTool) resolve(name string) (string, error) {
	target := filepath.Join(f.Root, name)
	rel, err := filepath.Rel(f.Root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("unsafe path attempt: %s", name)
	}
	return target, nil
}

func (f *FilesystemTool) Invoke(ctx context.Context, params map[string]any) (capability.Result, error) {
	command := capability.StringParam(params, "command")
	name := capability.StringParam(params, "path")
	content := capability.StringParam(params, "content")

	targetPath, err := f.resolve(name)
	if err != nil {
		return capability.Result{}, err
	}

	switch command {
	case "read":
		data, err := os.ReadFile(targetPath)
		if err != nil {
			return capability.Result{}, fmt.Errorf("failed to read file: %w", err)
		}
		return text(string(data)), nil
	case "write", "append":
		if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
			return capability.Result{}, fmt.Errorf("failed to create parent directory: %w", err)
		}
		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if command == "append" {
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}
		file, err := os.OpenFile(targetPath, flags, 0644)
		if err != nil {
			return capability.Result{}, fmt.Errorf("failed to open file: %w", err)
		}
		_, werr := file.WriteString(content)
		if cerr := file.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return capability.Result{}, fmt.Errorf("failed to write file: %w", werr)
		}
		verb := "wrote"
		if command == "append" {
			verb = "appended"
		}
		return text(fmt.Sprintf("Successfully %s %d bytes to %s", verb, len(content), name)), nil
	case "list":
		entries, err := os.ReadDir(targetPath)
		if err != nil {
			return capability.Result{}, fmt.Errorf("failed to list directory: %w", err)
		}
		var b strings.Builder
		for _, entry := range entries {
			typeStr := "file"
			if entry.IsDir() {
				typeStr = "dir"
			}
			fmt.Fprintf(&b, "[%s] %s\n", typeStr, entry.Name())
		}
		if b.Len() == 0 {
			return text("Directory is empty"), nil
		}
		return text(b.String()), nil
	case "delete":
		if targetPath == f.Root {
			return capability.Result{}, fmt.Errorf("refusing to delete the workspace root")
		}
		if err := os.Remove(targetPath); err != nil {
			return capability.Result{}, fmt.Errorf("failed to delete: %w", err)
		}
		return text(fmt.Sprintf("Successfully deleted %s", name)), nil
	case "mkdir":
		if err := os.MkdirAll(targetPath, 0755); err != nil {
			return capability.Result{}, fmt.Errorf("failed to create directory: %w", err)
		}
		return text(fmt.Sprintf("Successfully created directory %s", name)), nil
	default:
		return capability.Result{}, fmt.Errorf("invalid command %q, use read, write, append, list, delete or mkdir", command)
	}
}
