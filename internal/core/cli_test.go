package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupTestFiles(t *testing.T, files map[string]string) []string {
	t.Helper()
	tmpDir := t.TempDir()
	var paths []string

	for filename, content := range files {
		filePath := filepath.Join(tmpDir, filename)
		if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
			t.Fatalf("failed to create test file %s: %v", filename, err)
		}
		paths = append(paths, filePath)
	}

	return paths
}

func assertValidationError(t *testing.T, err error, expectedArg string, expectedCause string) {
	t.Helper()
	validationErr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if expectedArg != "" && validationErr.Arg != expectedArg {
		t.Errorf("expected Arg to be %q, got %q", expectedArg, validationErr.Arg)
	}
	if expectedCause != "" && validationErr.Cause != expectedCause {
		t.Errorf("expected Cause to be %q, got %q", expectedCause, validationErr.Cause)
	}
}

// Tests

func TestParseArgs(t *testing.T) {
	t.Run("no files returns error", func(t *testing.T) {
		result, err := ParseArgs([]string{"-key", "sk-test"})

		if err == nil {
			t.Fatal("expected error for missing files")
		}
		if result != nil {
			t.Error("expected nil result for missing files")
		}
		assertValidationError(t, err, "<files>", "no files provided")
	})

	t.Run("missing credential returns error", func(t *testing.T) {
		paths := setupTestFiles(t, map[string]string{"test.txt": "content"})

		_, err := ParseArgs(paths)

		if err == nil {
			t.Fatal("expected error for missing credential")
		}
		assertValidationError(t, err, "-key", "an API key or admin token is required")
	})

	t.Run("single file", func(t *testing.T) {
		paths := setupTestFiles(t, map[string]string{"test.txt": "content"})

		result, err := ParseArgs(append([]string{"-key", "sk-test"}, paths...))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(result.Files) != 1 {
			t.Fatalf("expected 1 file, got %d", len(result.Files))
		}
		if result.Files[0] != paths[0] {
			t.Errorf("expected path %s, got %s", paths[0], result.Files[0])
		}
	})

	t.Run("directory returns error", func(t *testing.T) {
		tmpDir := t.TempDir()

		_, err := ParseArgs([]string{"-key", "sk-test", tmpDir})

		if err == nil {
			t.Fatal("expected error for directory argument")
		}
		assertValidationError(t, err, tmpDir, "is a directory, only regular files can be uploaded")
	})

	t.Run("nonexistent path returns error", func(t *testing.T) {
		_, err := ParseArgs([]string{"-key", "sk-test", "/nonexistent/path/file.txt"})

		if err == nil {
			t.Fatal("expected error for nonexistent path")
		}
		assertValidationError(t, err, "", "not found or not accessible")
	})

	t.Run("path cleaning", func(t *testing.T) {
		paths := setupTestFiles(t, map[string]string{"test.txt": "content"})
		testFile := paths[0]
		tmpDir := filepath.Dir(testFile)

		messyPath := filepath.Join(tmpDir, ".", "test.txt")
		result, err := ParseArgs([]string{"-key", "sk-test", messyPath})

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.Files[0] != testFile {
			t.Errorf("expected path %s, got %s", testFile, result.Files[0])
		}
	})

	t.Run("slug with multiple files returns error", func(t *testing.T) {
		paths := setupTestFiles(t, map[string]string{
			"file1.txt": "content1",
			"file2.txt": "content2",
		})

		_, err := ParseArgs(append([]string{"-key", "sk-test", "-slug", "weekly"}, paths...))

		if err == nil {
			t.Fatal("expected error for slug over multiple files")
		}
		assertValidationError(t, err, "-slug", "cannot apply one slug to multiple files")
	})

	t.Run("flags populate options", func(t *testing.T) {
		paths := setupTestFiles(t, map[string]string{"test.txt": "content"})

		result, err := ParseArgs(append([]string{
			"-server", "https://share.example.com/",
			"-key", "sk-test",
			"-config", "cfg-1",
			"-path", "reports/2026",
			"-slug", "weekly",
			"-remark", "weekly report",
			"-password", "open-sesame",
			"-expires-in", "24",
			"-max-views", "3",
			"-override",
			"-proxy",
			"-keep-name",
		}, paths...))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if result.Server != "https://share.example.com" {
			t.Errorf("expected trailing slash trimmed, got %q", result.Server)
		}
		if result.ConfigID != "cfg-1" || result.Path != "reports/2026" || result.Slug != "weekly" {
			t.Errorf("unexpected options: %+v", result)
		}
		if result.ExpiresIn != 24 || result.MaxViews != 3 {
			t.Errorf("unexpected numeric options: %+v", result)
		}
		if !result.Override || !result.UseProxy || !result.KeepName {
			t.Errorf("unexpected boolean options: %+v", result)
		}
	})
}

func TestUploadURL(t *testing.T) {
	t.Run("bare upload has no query", func(t *testing.T) {
		opts := &Options{Server: "http://localhost:8080"}

		got := opts.UploadURL("report.pdf")

		want := "http://localhost:8080/api/upload-direct/report.pdf"
		if got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	})

	t.Run("filename is path-escaped", func(t *testing.T) {
		opts := &Options{Server: "http://localhost:8080"}

		got := opts.UploadURL("my report.pdf")

		if !strings.Contains(got, "/api/upload-direct/my%20report.pdf") {
			t.Errorf("expected escaped filename, got %q", got)
		}
	})

	t.Run("options ride in query parameters", func(t *testing.T) {
		opts := &Options{
			Server:    "http://localhost:8080",
			ConfigID:  "cfg-1",
			Slug:      "weekly",
			Path:      "reports",
			Password:  "pw",
			ExpiresIn: 24,
			MaxViews:  3,
			Override:  true,
			UseProxy:  true,
			KeepName:  true,
		}

		got := opts.UploadURL("report.pdf")

		for _, want := range []string{
			"s3_config_id=cfg-1",
			"slug=weekly",
			"path=reports",
			"password=pw",
			"expires_in=24",
			"max_views=3",
			"override=true",
			"use_proxy=true",
			"original_filename=true",
		} {
			if !strings.Contains(got, want) {
				t.Errorf("expected %q in %q", want, got)
			}
		}
	})
}

func TestAuthorization(t *testing.T) {
	t.Run("api key", func(t *testing.T) {
		opts := &Options{APIKey: "sk-test"}
		if got := opts.Authorization(); got != "ApiKey sk-test" {
			t.Errorf("expected ApiKey header, got %q", got)
		}
	})

	t.Run("admin token", func(t *testing.T) {
		opts := &Options{Token: "hunter2"}
		if got := opts.Authorization(); got != "Bearer hunter2" {
			t.Errorf("expected Bearer header, got %q", got)
		}
	})

	t.Run("api key wins over token", func(t *testing.T) {
		opts := &Options{APIKey: "sk-test", Token: "hunter2"}
		if got := opts.Authorization(); got != "ApiKey sk-test" {
			t.Errorf("expected ApiKey header, got %q", got)
		}
	})
}

func TestValidationError(t *testing.T) {
	t.Run("error message format", func(t *testing.T) {
		err := &ValidationError{
			Arg:   "test.txt",
			Cause: "file not found",
		}

		expected := `invalid argument "test.txt": file not found`
		if err.Error() != expected {
			t.Errorf("expected error message %q, got %q", expected, err.Error())
		}
	})
}
