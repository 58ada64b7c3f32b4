// Package core implements the wharf client: argument parsing, request
// building and the upload call against the gateway's direct endpoint.
package core

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

// Options is the command-line surface of the client. Files holds the
// cleaned paths of the local files to upload.
type Options struct {
	Server    string
	APIKey    string
	Token     string
	ConfigID  string
	Path      string
	Slug      string
	Remark    string
	Password  string
	ExpiresIn int
	MaxViews  int
	Override  bool
	UseProxy  bool
	KeepName  bool
	Files     []string
}

// ParseArgs parses flags and validates the positional file arguments.
// Every named file must exist and be a regular file; directories are
// rejected because the wire protocol carries one file per request.
func ParseArgs(args []string) (*Options, error) {
	opts := &Options{}

	fs := flag.NewFlagSet("wharf", flag.ContinueOnError)
	fs.StringVar(&opts.Server, "server", "http://localhost:8080", "gateway base URL")
	fs.StringVar(&opts.APIKey, "key", "", "API key")
	fs.StringVar(&opts.Token, "token", "", "admin token")
	fs.StringVar(&opts.ConfigID, "config", "", "storage config id (default: the caller's default config)")
	fs.StringVar(&opts.Path, "path", "", "directory path inside the resolved mount")
	fs.StringVar(&opts.Slug, "slug", "", "custom share slug (single file only)")
	fs.StringVar(&opts.Remark, "remark", "", "remark stored with the file")
	fs.StringVar(&opts.Password, "password", "", "password protecting the share link")
	fs.IntVar(&opts.ExpiresIn, "expires-in", 0, "hours until expiry (0 = never)")
	fs.IntVar(&opts.MaxViews, "max-views", 0, "view limit (0 = unlimited)")
	fs.BoolVar(&opts.Override, "override", false, "replace an existing record under -slug")
	fs.BoolVar(&opts.UseProxy, "proxy", false, "serve the file through the gateway instead of presigned URLs")
	fs.BoolVar(&opts.KeepName, "keep-name", false, "keep the original filename in the storage key")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if opts.APIKey == "" && opts.Token == "" {
		return nil, &ValidationError{Arg: "-key", Cause: "an API key or admin token is required"}
	}
	opts.Server = strings.TrimRight(opts.Server, "/")

	files := fs.Args()
	if len(files) == 0 {
		return nil, &ValidationError{Arg: "<files>", Cause: "no files provided"}
	}
	if opts.Slug != "" && len(files) > 1 {
		return nil, &ValidationError{Arg: "-slug", Cause: "cannot apply one slug to multiple files"}
	}

	for _, raw := range files {
		p := filepath.Clean(raw)
		info, err := os.Stat(p)
		if err != nil {
			return nil, &ValidationError{Arg: raw, Cause: "not found or not accessible"}
		}
		if info.IsDir() {
			return nil, &ValidationError{Arg: raw, Cause: "is a directory, only regular files can be uploaded"}
		}
		if !info.Mode().IsRegular() {
			return nil, &ValidationError{Arg: raw, Cause: "not a regular file"}
		}
		opts.Files = append(opts.Files, p)
	}

	return opts, nil
}

// UploadURL builds the direct-upload endpoint URL for one filename.
func (o *Options) UploadURL(filename string) string {
	q := url.Values{}
	if o.ConfigID != "" {
		q.Set("s3_config_id", o.ConfigID)
	}
	if o.Slug != "" {
		q.Set("slug", o.Slug)
	}
	if o.Path != "" {
		q.Set("path", o.Path)
	}
	if o.Remark != "" {
		q.Set("remark", o.Remark)
	}
	if o.Password != "" {
		q.Set("password", o.Password)
	}
	if o.ExpiresIn > 0 {
		q.Set("expires_in", strconv.Itoa(o.ExpiresIn))
	}
	if o.MaxViews > 0 {
		q.Set("max_views", strconv.Itoa(o.MaxViews))
	}
	if o.Override {
		q.Set("override", "true")
	}
	if o.UseProxy {
		q.Set("use_proxy", "true")
	}
	if o.KeepName {
		q.Set("original_filename", "true")
	}

	u := o.Server + "/api/upload-direct/" + url.PathEscape(filename)
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

// Authorization returns the header value for the configured credential.
// The API key wins when both are set.
func (o *Options) Authorization() string {
	if o.APIKey != "" {
		return "ApiKey " + o.APIKey
	}
	return "Bearer " + o.Token
}
