package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHackAssembler(t *testing.T) {
	test := func(t *testing.T, source string, expected []string) {
		t.Helper()

		dir := t.TempDir()
		input := filepath.Join(dir, "program.asm")
		if err := os.WriteFile(input, []byte(source), 0644); err != nil {
			t.Fatalf("unable to write fixture input: %v", err)
		}

		status := Handler([]string{input}, nil)
		if status != 0 {
			t.Fatalf("unexpected exit status code: expected 0 got: %d", status)
		}

		output := strings.TrimSuffix(input, ".asm") + ".bin"
		compiled, err := os.ReadFile(output)
		if err != nil {
			t.Fatalf("error reading output file %s: %v", output, err)
		}

		got := strings.Split(strings.TrimRight(string(compiled), "\n"), "\n")
		if len(got) != len(expected) {
			t.Fatalf("expected %d instructions, got %d: %v", len(expected), len(got), got)
		}
		for i := range expected {
			if got[i] != expected[i] {
				t.Errorf("instruction %d: expected %q, got %q", i, expected[i], got[i])
			}
		}
	}

	t.Run("Add.asm", func(t *testing.T) {
		// R0 = 2 + 3, the textbook first assembler fixture: no labels, no symbols.
		source := "@2\nD=A\n@3\nD=D+A\n@0\nM=D\n"
		expected := []string{
			"0000000000000010",
			"1110110000010000",
			"0000000000000011",
			"1110000010010000",
			"0000000000000000",
			"1110001100001000",
		}
		test(t, source, expected)
	})

	t.Run("labels and loops resolve through the auto-derived output path", func(t *testing.T) {
		// Copies R0 into R1 unless it is zero, exercising a user-defined label and a jump.
		source := "@0\nD=M\n@END\nD;JEQ\n@1\nM=D\n(END)\n@END\n0;JMP\n"
		expected := []string{
			"0000000000000000",
			"1111110000010000",
			"0000000000000110",
			"1110001100000010",
			"0000000000000001",
			"1110001100001000",
			"0000000000000110",
			"1110101010000111",
		}
		test(t, source, expected)
	})

	t.Run("missing input file", func(t *testing.T) {
		status := Handler([]string{filepath.Join(t.TempDir(), "missing.asm")}, nil)
		if status == 0 {
			t.Fatal("expected a non-zero exit status for a missing input file")
		}
	})
}
