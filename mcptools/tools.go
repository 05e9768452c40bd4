// Package mcptools exposes OPFS operations as MCP tools.
package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/pithecene-io/opfsx/types"
)

// Client is the part of opfs.Client the tools call.
type Client interface {
	List(ctx context.Context, path string) ([]types.FileEntry, error)
	Read(ctx context.Context, path string) (string, error)
	ReadWithMetadata(ctx context.Context, path string) (*types.FileContent, error)
	Write(ctx context.Context, path, content string, isBinary bool) error
	Rename(ctx context.Context, path, newName string) error
	Move(ctx context.Context, oldPath, newPath string) error
	Create(ctx context.Context, path string, kind types.EntryKind) error
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) bool
	StorageEstimate(ctx context.Context) (*types.StorageEstimate, error)
}

// NewServer returns an MCP server with every OPFS tool registered.
func NewServer(c Client, version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "opfsx", Version: version}, nil)
	Register(srv, c)
	return srv
}

// Register adds the OPFS tools to srv.
func Register(srv *mcp.Server, c Client) {
	pathOnly := schema(map[string]any{"path": prop("string", "OPFS path; empty or / is the root")}, nil)

	addTool(srv, "opfs_list", "List the immediate children of an OPFS directory.", pathOnly,
		func(ctx context.Context, a args) (any, error) {
			entries, err := c.List(ctx, a.Path)
			if err != nil {
				return nil, err
			}
			return map[string]any{"entries": entries}, nil
		})

	addTool(srv, "opfs_read", "Read an OPFS file as text. Binary or large files return a placeholder.",
		schema(map[string]any{"path": prop("string", "File path")}, []string{"path"}),
		func(ctx context.Context, a args) (any, error) {
			content, err := c.Read(ctx, a.Path)
			if err != nil {
				return nil, err
			}
			return map[string]any{"content": content}, nil
		})

	addTool(srv, "opfs_read_meta", "Read an OPFS file with its size, type and modification time.",
		schema(map[string]any{"path": prop("string", "File path")}, []string{"path"}),
		func(ctx context.Context, a args) (any, error) {
			return c.ReadWithMetadata(ctx, a.Path)
		})

	addTool(srv, "opfs_write", "Write text, or base64 data when binary is true, to an OPFS file.",
		schema(map[string]any{
			"path":    prop("string", "File path"),
			"content": prop("string", "Text, or base64 when binary"),
			"binary":  prop("boolean", "Content is base64"),
		}, []string{"path", "content"}),
		func(ctx context.Context, a args) (any, error) {
			return ok(c.Write(ctx, a.Path, a.Content, a.Binary))
		})

	addTool(srv, "opfs_rename", "Rename an entry within its directory.",
		schema(map[string]any{
			"path":     prop("string", "Entry path"),
			"new_name": prop("string", "New name without slashes"),
		}, []string{"path", "new_name"}),
		func(ctx context.Context, a args) (any, error) {
			return ok(c.Rename(ctx, a.Path, a.NewName))
		})

	addTool(srv, "opfs_move", "Move an entry to a new path.",
		schema(map[string]any{
			"path":     prop("string", "Source path"),
			"new_path": prop("string", "Destination path"),
		}, []string{"path", "new_path"}),
		func(ctx context.Context, a args) (any, error) {
			return ok(c.Move(ctx, a.Path, a.NewPath))
		})

	addTool(srv, "opfs_create", "Create an empty file or a directory.",
		schema(map[string]any{
			"path": prop("string", "Entry path"),
			"kind": map[string]any{"type": "string", "enum": []string{"file", "directory"}},
		}, []string{"path", "kind"}),
		func(ctx context.Context, a args) (any, error) {
			kind, err := types.ParseEntryKind(a.Kind)
			if err != nil {
				return nil, err
			}
			return ok(c.Create(ctx, a.Path, kind))
		})

	addTool(srv, "opfs_delete", "Delete an entry, recursively for directories.",
		schema(map[string]any{"path": prop("string", "Entry path")}, []string{"path"}),
		func(ctx context.Context, a args) (any, error) {
			return ok(c.Delete(ctx, a.Path))
		})

	addTool(srv, "opfs_exists", "Report whether an entry exists.",
		schema(map[string]any{"path": prop("string", "Entry path")}, []string{"path"}),
		func(ctx context.Context, a args) (any, error) {
			return map[string]any{"exists": c.Exists(ctx, a.Path)}, nil
		})

	addTool(srv, "opfs_estimate", "Report storage usage and quota for the origin.",
		schema(map[string]any{}, nil),
		func(ctx context.Context, _ args) (any, error) {
			return c.StorageEstimate(ctx)
		})
}

// args is the union of every tool's arguments.
type args struct {
	Path    string `json:"path"`
	NewName string `json:"new_name"`
	NewPath string `json:"new_path"`
	Content string `json:"content"`
	Binary  bool   `json:"binary"`
	Kind    string `json:"kind"`
}

func ok(err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func addTool(srv *mcp.Server, name, desc string, inputSchema map[string]any, endpoint func(context.Context, args) (any, error)) {
	tool := &mcp.Tool{Name: name, Description: desc, InputSchema: inputSchema}
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var a args
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &a); err != nil {
				var res mcp.CallToolResult
				res.SetError(fmt.Errorf("invalid arguments: %w", err))
				return &res, nil
			}
		}

		resp, err := endpoint(ctx, a)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}

		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func schema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}
