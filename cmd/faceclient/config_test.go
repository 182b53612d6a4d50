package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseCommandLineOK(t *testing.T) {
	params, code := parseCommandLine([]string{"9000", "--detectfile", "a.jpg", "--replacefile", "b.jpg", "--outputfilename", "c.jpg"})
	if code != 0 {
		t.Fatalf("expected code 0, got %d", code)
	}
	if params.portnum != "9000" || params.detectFile != "a.jpg" || params.replaceFile != "b.jpg" || params.outputFileName != "c.jpg" {
		t.Fatalf("unexpected params %+v", params)
	}
}

func TestParseCommandLineMissingPort(t *testing.T) {
	if _, code := parseCommandLine(nil); code != 16 {
		t.Fatalf("expected code 16, got %d", code)
	}
}

func TestParseCommandLineEmptyPort(t *testing.T) {
	if _, code := parseCommandLine([]string{""}); code != 16 {
		t.Fatalf("expected code 16, got %d", code)
	}
}

func TestParseCommandLineDuplicateFlagRejected(t *testing.T) {
	_, code := parseCommandLine([]string{"9000", "--detectfile", "a.jpg", "--detectfile", "b.jpg"})
	if code != 16 {
		t.Fatalf("expected code 16 for duplicate flag, got %d", code)
	}
}

func TestParseCommandLineEmptyValueRejected(t *testing.T) {
	_, code := parseCommandLine([]string{"9000", "--detectfile", ""})
	if code != 16 {
		t.Fatalf("expected code 16 for empty value, got %d", code)
	}
}

func TestParseCommandLineMissingValueRejected(t *testing.T) {
	_, code := parseCommandLine([]string{"9000", "--detectfile"})
	if code != 16 {
		t.Fatalf("expected code 16 for missing value, got %d", code)
	}
}

func TestParseCommandLineUnknownFlagRejected(t *testing.T) {
	_, code := parseCommandLine([]string{"9000", "--bogus", "x"})
	if code != 16 {
		t.Fatalf("expected code 16 for unknown flag, got %d", code)
	}
}

func TestCheckFilesInputUnreadable(t *testing.T) {
	params := &cmdLineParams{portnum: "9000", detectFileGiven: true, detectFile: "/nonexistent/path.jpg"}
	if code := checkFiles(params); code != 13 {
		t.Fatalf("expected code 13, got %d", code)
	}
}

func TestCheckFilesOutputUnwritable(t *testing.T) {
	params := &cmdLineParams{portnum: "9000", outputFileNameGiven: true, outputFileName: "/nonexistent-dir/out.jpg"}
	if code := checkFiles(params); code != 5 {
		t.Fatalf("expected code 5, got %d", code)
	}
}

func TestCheckFilesOK(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.jpg")
	if err := os.WriteFile(in, []byte("data"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	out := filepath.Join(dir, "out.jpg")
	params := &cmdLineParams{portnum: "9000", detectFileGiven: true, detectFile: in, outputFileNameGiven: true, outputFileName: out}
	if code := checkFiles(params); code != 0 {
		t.Fatalf("expected code 0, got %d", code)
	}
}
