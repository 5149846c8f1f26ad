// Package registry owns the fixed catalogue of tools offered to a backend
// and the normalisation of arguments the backend hands back, grounded on the
// teacher's ProviderInterface tool handling and on proxy_common.py's
// generate_ultra_simple_tools / TOOL_MAPPING.
package registry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/relaykit/clauded/internal/apierr"
	"github.com/relaykit/clauded/internal/config"
)

// Property describes one entry of a tool's parameter schema, restricted to
// the "ultra-simple" subset every backend validator here accepts.
type Property struct {
	Type        string   // "string", "number", "boolean", "array"
	ItemType    string   // set only when Type == "array"; item schema is either a primitive or "object"
	Description string
}

// Schema is the ultra-simple JSON-Schema-shaped parameter description: no
// additionalProperties, no oneOf/anyOf, no defaults, no formats.
type Schema struct {
	Properties map[string]Property
	Required   []string
}

// Entry is one registry member: a public tool name, its description
// (possibly OS-templated), its schema, and the rename map applied to
// arguments the backend returns.
type Entry struct {
	Name        string
	Description string
	Schema      Schema
	// RenameMap maps an incoming argument name to its canonical name.
	RenameMap map[string]string
	// SharesSchemaWith names another entry whose required-property list
	// CanonicalArgs validates this entry against (used by the todo_write
	// alias).
	SharesSchemaWith string
}

// Registry holds the frozen set of tool entries for one process lifetime.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry // by name
	order   []string         // stable order for tools_for
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Initialize builds and freezes the process-wide registry. Safe to call more
// than once; only the first call has effect.
func Initialize() *Registry {
	globalOnce.Do(func() {
		global = build()
	})
	return global
}

// Global returns the frozen registry, building it on first use.
func Global() *Registry {
	if global == nil {
		return Initialize()
	}
	return global
}

func build() *Registry {
	r := &Registry{entries: map[string]Entry{}}

	add := func(e Entry) {
		r.entries[e.Name] = e
		r.order = append(r.order, e.Name)
	}

	add(Entry{
		Name:        "read_file",
		Description: "Read contents of a file",
		Schema: Schema{
			Properties: map[string]Property{
				"file_path": {Type: "string", Description: "Path to the file"},
				"limit":     {Type: "number", Description: "Lines to read (optional)"},
				"offset":    {Type: "number", Description: "Start line (optional)"},
			},
			Required: []string{"file_path"},
		},
		RenameMap: map[string]string{"path": "file_path"},
	})
	add(Entry{
		Name:        "open_file",
		Description: "Open and read contents of a file (alias for read_file)",
		Schema: Schema{
			Properties: map[string]Property{
				"file_path": {Type: "string", Description: "Path to the file"},
				"limit":     {Type: "number", Description: "Lines to read (optional)"},
				"offset":    {Type: "number", Description: "Start line (optional)"},
			},
			Required: []string{"file_path"},
		},
		RenameMap: map[string]string{"path": "file_path"},
	})
	add(Entry{
		Name:        "write_file",
		Description: "Write content to a file",
		Schema: Schema{
			Properties: map[string]Property{
				"file_path": {Type: "string", Description: "Path to the file"},
				"content":   {Type: "string", Description: "File content"},
			},
			Required: []string{"file_path", "content"},
		},
		RenameMap: map[string]string{"path": "file_path"},
	})
	add(Entry{
		Name:        "edit_file",
		Description: "Edit a file by replacing text",
		Schema: Schema{
			Properties: map[string]Property{
				"file_path":   {Type: "string", Description: "Path to the file"},
				"old_string":  {Type: "string", Description: "Text to replace"},
				"new_string":  {Type: "string", Description: "New text"},
				"replace_all": {Type: "boolean", Description: "Replace all occurrences"},
			},
			Required: []string{"file_path", "old_string", "new_string"},
		},
		RenameMap: map[string]string{"path": "file_path"},
	})
	add(Entry{
		Name:        "multi_edit_file",
		Description: "Make multiple edits to a file",
		Schema: Schema{
			Properties: map[string]Property{
				"file_path": {Type: "string", Description: "Path to the file"},
				"edits":     {Type: "array", ItemType: "object", Description: "Array of edit operations"},
			},
			Required: []string{"file_path", "edits"},
		},
		RenameMap: map[string]string{"path": "file_path"},
	})

	// OS-aware shell tool pairing (SPEC_FULL §C.2): both run_bash and run_cmd
	// are always registered, with the non-native one described as a
	// cross-platform fallback, following proxy_common.py's
	// _generate_os_aware_command_tools.
	add(shellTool("run_bash", config.OSUnix))
	add(shellTool("run_cmd", config.OSWindows))

	add(Entry{
		Name:        "search_files",
		Description: "Search for files using glob patterns",
		Schema: Schema{
			Properties: map[string]Property{
				"pattern": {Type: "string", Description: "Glob pattern like *.go"},
				"path":    {Type: "string", Description: "Directory to search"},
			},
			Required: []string{"pattern"},
		},
	})
	add(Entry{
		Name:        "grep_search",
		Description: "Search for text patterns in files",
		Schema: Schema{
			Properties: map[string]Property{
				"pattern": {Type: "string", Description: "Text pattern to search"},
				"path":    {Type: "string", Description: "Path to search"},
				"glob":    {Type: "string", Description: "File filter like *.go"},
			},
			Required: []string{"pattern"},
		},
	})

	todosSchema := Schema{
		Properties: map[string]Property{
			"todos": {Type: "array", ItemType: "object", Description: "The updated todo list"},
		},
		Required: []string{"todos"},
	}
	add(Entry{
		Name:        "manage_todos",
		Description: "Create and manage task lists for project tracking",
		Schema:      todosSchema,
		RenameMap:   map[string]string{"tasks": "todos"},
	})
	// todo_write is a full alias of manage_todos (SPEC_FULL §C.6): some
	// backend fine-tunes emit this name instead.
	add(Entry{
		Name:             "todo_write",
		Description:      "Create and manage task lists for project tracking (alternative name)",
		Schema:           todosSchema,
		RenameMap:        map[string]string{"tasks": "todos"},
		SharesSchemaWith: "manage_todos",
	})

	add(Entry{
		Name:        "get_bash_output",
		Description: "Get output from background bash process",
		Schema: Schema{
			Properties: map[string]Property{"bash_id": {Type: "string", Description: "Background process ID"}},
			Required:   []string{"bash_id"},
		},
	})
	add(Entry{
		Name:        "kill_bash_shell",
		Description: "Kill a background bash process",
		Schema: Schema{
			Properties: map[string]Property{"shell_id": {Type: "string", Description: "Shell process ID to kill"}},
			Required:   []string{"shell_id"},
		},
	})
	add(Entry{
		Name:        "edit_notebook",
		Description: "Edit a Jupyter notebook cell",
		Schema: Schema{
			Properties: map[string]Property{
				"notebook_path": {Type: "string", Description: "Path to notebook"},
				"new_source":    {Type: "string", Description: "New cell content"},
				"cell_type":     {Type: "string", Description: "Cell type: code or markdown"},
			},
			Required: []string{"notebook_path", "new_source"},
		},
	})
	add(Entry{
		Name:        "delegate_task",
		Description: "Delegate task to a specialized agent",
		Schema: Schema{
			Properties: map[string]Property{
				"description":   {Type: "string", Description: "Task description"},
				"prompt":        {Type: "string", Description: "Detailed task prompt"},
				"subagent_type": {Type: "string", Description: "Agent type: general-purpose etc"},
			},
			Required: []string{"description", "prompt", "subagent_type"},
		},
	})
	add(Entry{
		Name:        "web_search",
		Description: "Search the web for current information",
		Schema: Schema{
			Properties: map[string]Property{"query": {Type: "string", Description: "Search query"}},
			Required:   []string{"query"},
		},
	})
	add(Entry{
		Name:        "browser_search",
		Description: "Search the web for information",
		Schema: Schema{
			Properties: map[string]Property{"query": {Type: "string", Description: "Search query"}},
			Required:   []string{"query"},
		},
	})
	add(Entry{
		Name:        "web_fetch",
		Description: "Fetch content from a web URL",
		Schema: Schema{
			Properties: map[string]Property{
				"url":    {Type: "string", Description: "URL to fetch"},
				"prompt": {Type: "string", Description: "Prompt for processing content"},
			},
			Required: []string{"url", "prompt"},
		},
	})
	add(Entry{
		Name:        "exit_plan_mode",
		Description: "Exit planning mode with implementation plan",
		Schema: Schema{
			Properties: map[string]Property{"plan": {Type: "string", Description: "Implementation plan details"}},
			Required:   []string{"plan"},
		},
	})

	sort.Strings(r.order)
	return r
}

func shellTool(name string, native config.OSFamily) Entry {
	desc := fmt.Sprintf("Run %s commands (cross-platform; converted automatically when needed)", string(native))
	return Entry{
		Name:        name,
		Description: desc,
		Schema: Schema{
			Properties: map[string]Property{
				"command":           {Type: "string", Description: string(native) + " command syntax"},
				"timeout":           {Type: "number", Description: "Timeout in milliseconds (default: 120000)"},
				"run_in_background": {Type: "boolean", Description: "Run command in background (default: false)"},
			},
			Required: []string{"command"},
		},
	}
}

// ToolsFor returns the registry entries offered for the given host OS, with
// per-entry descriptions templated so the primary tool for that OS is
// clearly marked over its fallback. The order is stable across calls.
func (r *Registry) ToolsFor(os config.OSFamily) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		switch name {
		case "run_bash":
			if os == config.OSWindows {
				e.Description = "Run cross-platform commands (converted automatically)"
			} else {
				e.Description = "Run shell commands (RECOMMENDED for this system)"
			}
		case "run_cmd":
			if os == config.OSWindows {
				e.Description = "Run Windows CMD commands (RECOMMENDED for this system)"
			} else {
				e.Description = "Run Windows-style commands (not recommended on this system)"
			}
		}
		out = append(out, e)
	}
	return out
}

// Get looks up an entry by its public name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// ReverseToolName maps a backend-returned tool name back to the client-facing
// name. The registry's public names are one-to-one with client names, so
// this is identity once a "functions/" prefix (SPEC_FULL §C.3) is stripped;
// unknown names pass through unchanged so unrecognised backend-added tools
// still round-trip.
func ReverseToolName(backendName string) string {
	return strings.TrimPrefix(backendName, "functions/")
}

// CanonicalArgs applies tool_name's rename map, drops explicit-null
// properties, repairs list-of-strings-where-list-of-objects-is-required
// arguments, applies the run_bash/run_cmd Windows auto-wrap and the
// exit_plan_mode HTML-entity cleanup, then fails with apierr.InvalidArgs if a
// required property is still absent.
func (r *Registry) CanonicalArgs(toolName string, rawArgs map[string]any, hostOS config.OSFamily) (string, map[string]any, error) {
	name := ReverseToolName(toolName)

	entry, ok := r.Get(name)
	if !ok {
		return name, rawArgs, nil // unknown tool: pass through untouched
	}

	schemaSource := entry
	if entry.SharesSchemaWith != "" {
		if shared, ok := r.Get(entry.SharesSchemaWith); ok {
			schemaSource = shared
		}
	}

	args := make(map[string]any, len(rawArgs))
	for k, v := range rawArgs {
		if v == nil {
			continue // drop explicit nulls
		}
		key := k
		if renamed, ok := entry.RenameMap[k]; ok {
			key = renamed
		}
		args[key] = v
	}

	if name == "manage_todos" || name == "todo_write" {
		if raw, ok := args["todos"]; ok {
			args["todos"] = normalizeTodos(raw)
		}
	}

	if name == "run_bash" || name == "run_cmd" {
		if cmd, ok := args["command"].(string); ok {
			args["command"] = wrapWindowsCommand(cmd, hostOS)
		}
	}

	if name == "exit_plan_mode" {
		if plan, ok := args["plan"].(string); ok {
			args["plan"] = cleanPlanText(plan)
		}
	}

	for _, req := range schemaSource.Schema.Required {
		if _, ok := args[req]; !ok {
			return name, nil, apierr.New(apierr.KindInvalidArgs, fmt.Sprintf("tool %q missing required argument %q after normalisation", name, req))
		}
	}

	return name, args, nil
}

// normalizeTodos wraps a list of plain strings into the minimal object shape
// manage_todos requires, synthesising status="pending" and an activeForm by
// appending "ing" to the first verb (spec §4.1, scenario S3). Already-object
// entries pass through unchanged.
func normalizeTodos(raw any) any {
	items, ok := raw.([]any)
	if !ok {
		return raw
	}

	out := make([]any, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, map[string]any{
				"content":    v,
				"status":     "pending",
				"activeForm": synthesizeActiveForm(v),
			})
		default:
			out = append(out, item)
		}
	}
	return out
}

// synthesizeActiveForm derives a present-continuous form from an imperative
// task description by appending "ing" to its first word.
func synthesizeActiveForm(content string) string {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return content
	}
	verb := fields[0]
	rest := strings.Join(fields[1:], " ")

	form := verb
	switch {
	case strings.HasSuffix(verb, "e") && len(verb) > 1 && !endsInVowel(verb, 1):
		form = verb[:len(verb)-1] + "ing"
	default:
		form = verb + "ing"
	}
	form = strings.ToLower(form)

	if rest == "" {
		return form
	}
	return form + " " + rest
}

func endsInVowel(s string, fromEnd int) bool {
	if len(s) < fromEnd+1 {
		return false
	}
	r := rune(s[len(s)-fromEnd-1])
	return unicode.IsLetter(r) && strings.ContainsRune("aeiouAEIOU", r)
}

var windowsIndicators = []string{
	"\\", "/d", "C:", "D:", "E:", "F:",
	"dir ", "type ", "copy ", "move ", "del ", "cls", "where ",
}

// wrapWindowsCommand wraps a Windows-shaped command in `cmd /c "..."` when
// the host is windows and the command is not already wrapped (SPEC_FULL
// §C.4), matching proxy_common.py's windows_indicators heuristic.
func wrapWindowsCommand(command string, hostOS config.OSFamily) string {
	if hostOS != config.OSWindows {
		return command
	}
	if strings.HasPrefix(command, "cmd /c") {
		return command
	}

	isWindowsCommand := false
	for _, ind := range windowsIndicators {
		if strings.Contains(command, ind) {
			isWindowsCommand = true
			break
		}
	}
	if !isWindowsCommand {
		return command
	}

	return "cmd /c " + strconv.Quote(command)
}

// cleanPlanText unescapes the small set of HTML entities that turn up in
// model-emitted plan text (SPEC_FULL §C.5).
func cleanPlanText(plan string) string {
	plan = strings.ReplaceAll(plan, "&amp;&amp;", "&&")
	plan = strings.ReplaceAll(plan, "&amp;", "&")
	plan = strings.ReplaceAll(plan, "&lt;", "<")
	plan = strings.ReplaceAll(plan, "&gt;", ">")
	return plan
}
