package domain

import (
	"path"
	"sort"
)

// FileTree is the nested file layout the AI emits and the workspace
// runtime mounts. It mirrors the browser-sandbox format: each entry is
// either a file with contents or a directory of further entries.
type FileTree map[string]*FileNode

// FileNode is one entry in a FileTree.
type FileNode struct {
	File      *FileSpec `json:"file,omitempty"`
	Directory FileTree  `json:"directory,omitempty"`
}

// FileSpec holds file contents.
type FileSpec struct {
	Contents string `json:"contents"`
}

// Command is a build or start invocation for the workspace runtime,
// e.g. {mainItem: "npm", commands: ["install"]}.
type Command struct {
	MainItem string   `json:"mainItem"`
	Commands []string `json:"commands"`
}

// Argv returns the command as an exec argument vector, or nil if the
// command is empty.
func (c *Command) Argv() []string {
	if c == nil || c.MainItem == "" {
		return nil
	}
	return append([]string{c.MainItem}, c.Commands...)
}

// Flatten converts the tree into a sorted path -> contents map.
// Directory entries contribute their children; empty directories are
// dropped.
func (t FileTree) Flatten() map[string]string {
	out := make(map[string]string)
	t.flattenInto("", out)
	return out
}

func (t FileTree) flattenInto(prefix string, out map[string]string) {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		node := t[name]
		if node == nil {
			continue
		}
		full := path.Join(prefix, name)
		if node.File != nil {
			out[full] = node.File.Contents
		}
		if node.Directory != nil {
			node.Directory.flattenInto(full, out)
		}
	}
}
