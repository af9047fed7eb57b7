package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/lodekb/lodestone/internal/search"
)

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Query          string   `json:"query" jsonschema:"the search query to execute"`
	Limit          int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10, max 100"`
	IncludeFolders []string `json:"include_folders,omitempty" jsonschema:"restrict results to these folders and their subfolders"`
	ExcludeFolders []string `json:"exclude_folders,omitempty" jsonschema:"remove these folders from the search scope"`
	ContextChunks  int      `json:"context_chunks,omitempty" jsonschema:"number of neighboring chunks to merge around each hit"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Results []search.Result `json:"results" jsonschema:"matching chunks, best first, one per file"`
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	results, err := s.engine.Search(ctx, search.Request{
		Query:          input.Query,
		Limit:          input.Limit,
		IncludeFolders: input.IncludeFolders,
		ExcludeFolders: input.ExcludeFolders,
		User:           callerUser(ctx),
		ContextChunks:  input.ContextChunks,
	})
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}
	return nil, SearchOutput{Results: results}, nil
}

// ListFoldersInput is the (empty) input schema for list_indexed_folders.
type ListFoldersInput struct{}

// ListFoldersOutput is the output schema for list_indexed_folders.
type ListFoldersOutput struct {
	Folders []search.FolderInfo `json:"folders" jsonschema:"registered folders with status and counts"`
}

func (s *Server) handleListFolders(ctx context.Context, _ *mcp.CallToolRequest, _ ListFoldersInput) (*mcp.CallToolResult, ListFoldersOutput, error) {
	folders, err := s.engine.ListIndexedFolders(ctx, callerUser(ctx))
	if err != nil {
		return nil, ListFoldersOutput{}, MapError(err)
	}
	return nil, ListFoldersOutput{Folders: folders}, nil
}

// GetFileInput is the input schema for get_file.
type GetFileInput struct {
	FilePath string `json:"file_path" jsonschema:"logical path of the file, relative to the managed root"`
}

// GetFileOutput is the output schema for get_file.
type GetFileOutput struct {
	FilePath string `json:"file_path"`
	Text     string `json:"text" jsonschema:"full extracted text"`
}

func (s *Server) handleGetFile(ctx context.Context, _ *mcp.CallToolRequest, input GetFileInput) (*mcp.CallToolResult, GetFileOutput, error) {
	text, err := s.engine.GetFile(ctx, input.FilePath)
	if err != nil {
		return nil, GetFileOutput{}, MapError(err)
	}
	return nil, GetFileOutput{FilePath: input.FilePath, Text: text}, nil
}

// GetChunkRangeInput is the input schema for get_chunk_range.
type GetChunkRangeInput struct {
	FilePath string `json:"file_path" jsonschema:"logical path of the file"`
	Start    int    `json:"start" jsonschema:"first chunk ordinal, inclusive"`
	End      int    `json:"end" jsonschema:"last chunk ordinal, inclusive"`
}

// GetChunkRangeOutput is the output schema for get_chunk_range.
type GetChunkRangeOutput struct {
	FilePath    string `json:"file_path"`
	Text        string `json:"text" jsonschema:"merged chunk text"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	TotalChunks int    `json:"total_chunks"`
	Truncated   bool   `json:"truncated,omitempty" jsonschema:"true when the range was cut at the 20 chunk cap"`
}

func (s *Server) handleGetChunkRange(ctx context.Context, _ *mcp.CallToolRequest, input GetChunkRangeInput) (*mcp.CallToolResult, GetChunkRangeOutput, error) {
	res, err := s.engine.GetChunkRange(ctx, input.FilePath, input.Start, input.End)
	if err != nil {
		return nil, GetChunkRangeOutput{}, MapError(err)
	}
	return nil, GetChunkRangeOutput{
		FilePath:    res.FilePath,
		Text:        res.Text,
		Start:       res.Start,
		End:         res.End,
		TotalChunks: res.TotalChunks,
		Truncated:   res.Truncated,
	}, nil
}

// GetFileURIInput is the input schema for get_file_uri.
type GetFileURIInput struct {
	FilePath string `json:"file_path" jsonschema:"logical path of the file"`
}

// GetFileURIOutput is the output schema for get_file_uri.
type GetFileURIOutput struct {
	URI string `json:"uri" jsonschema:"short-lived download path on the HTTP server"`
}

func (s *Server) handleGetFileURI(ctx context.Context, _ *mcp.CallToolRequest, input GetFileURIInput) (*mcp.CallToolResult, GetFileURIOutput, error) {
	if s.rawURI == nil {
		return nil, GetFileURIOutput{}, &Error{Code: ErrCodeInternal, Message: "download links are not available on this transport"}
	}
	uri, err := s.rawURI(input.FilePath)
	if err != nil {
		return nil, GetFileURIOutput{}, MapError(err)
	}
	return nil, GetFileURIOutput{URI: uri}, nil
}

// SetFolderActiveInput is the input schema for set_folder_active.
type SetFolderActiveInput struct {
	FolderPath string `json:"folder_path" jsonschema:"registered folder to toggle"`
	Active     bool   `json:"active" jsonschema:"whether the folder participates in the caller's searches"`
}

// SetFolderActiveOutput is the output schema for set_folder_active.
type SetFolderActiveOutput struct {
	FolderPath string `json:"folder_path"`
	Active     bool   `json:"active"`
}

func (s *Server) handleSetFolderActive(ctx context.Context, _ *mcp.CallToolRequest, input SetFolderActiveInput) (*mcp.CallToolResult, SetFolderActiveOutput, error) {
	if err := s.engine.SetFolderActive(ctx, callerUser(ctx), input.FolderPath, input.Active); err != nil {
		return nil, SetFolderActiveOutput{}, MapError(err)
	}
	return nil, SetFolderActiveOutput{FolderPath: input.FolderPath, Active: input.Active}, nil
}

// GetActiveStatesInput is the (empty) input schema for
// get_folder_active_states.
type GetActiveStatesInput struct{}

// GetActiveStatesOutput is the output schema for
// get_folder_active_states.
type GetActiveStatesOutput struct {
	States map[string]bool `json:"states" jsonschema:"folder path to active flag for the caller"`
}

func (s *Server) handleGetActiveStates(ctx context.Context, _ *mcp.CallToolRequest, _ GetActiveStatesInput) (*mcp.CallToolResult, GetActiveStatesOutput, error) {
	states, err := s.engine.ActiveStates(ctx, callerUser(ctx))
	if err != nil {
		return nil, GetActiveStatesOutput{}, MapError(err)
	}
	return nil, GetActiveStatesOutput{States: states}, nil
}
