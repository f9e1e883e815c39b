package testutils

import (
	"fmt"
	"strings"
	"testing"
)

func TestTextAsserter_DefaultNormalization(t *testing.T) {
	t.Run("surrounding whitespace trimmed", func(t *testing.T) {
		mockT := &mockTestingT{}
		ta := NewTextAsserterT(mockT)

		ta.Assert("  hello\nworld  \n", "hello\nworld")

		if mockT.errorCalled {
			t.Errorf("Expected surrounding whitespace to be ignored by default, got: %s", mockT.errorMessage)
		}
	})

	t.Run("trailing padding per line ignored", func(t *testing.T) {
		mockT := &mockTestingT{}
		ta := NewTextAsserterT(mockT)

		ta.Assert("hello   \nworld", "hello\nworld")

		if mockT.errorCalled {
			t.Errorf("Expected trailing padding to be ignored by default, got: %s", mockT.errorMessage)
		}
	})

	t.Run("empty lines preserved", func(t *testing.T) {
		mockT := &mockTestingT{}
		ta := NewTextAsserterT(mockT)

		ta.Assert("hello\n\nworld", "hello\nworld")

		if !mockT.errorCalled {
			t.Error("Expected blank lines to count by default")
		}
	})
}

func TestTextAsserter_FunctionalOptions(t *testing.T) {
	t.Run("WithTrimSpace false", func(t *testing.T) {
		mockT := &mockTestingT{}
		ta := NewTextAsserterT(mockT).WithOptions(
			WithTrimSpace(false),
		)

		ta.Assert("  hello", "hello")

		if !mockT.errorCalled {
			t.Error("Expected leading whitespace to count when trimming is off")
		}
	})

	t.Run("WithIgnoreTrailingWhitespace false", func(t *testing.T) {
		mockT := &mockTestingT{}
		ta := NewTextAsserterT(mockT).WithOptions(
			WithIgnoreTrailingWhitespace(false),
		)

		ta.Assert("hello   \nworld", "hello\nworld")

		if !mockT.errorCalled {
			t.Error("Expected trailing padding to count when explicitly disabled")
		}
	})

	t.Run("WithIgnoreEmptyLines true", func(t *testing.T) {
		mockT := &mockTestingT{}
		ta := NewTextAsserterT(mockT).WithOptions(
			WithIgnoreEmptyLines(true),
		)

		ta.Assert("hello\n\nworld\n\n", "hello\nworld")

		if mockT.errorCalled {
			t.Errorf("Expected blank lines to be dropped when enabled, got: %s", mockT.errorMessage)
		}
	})

	t.Run("all normalization options", func(t *testing.T) {
		mockT := &mockTestingT{}
		ta := NewTextAsserterT(mockT).WithOptions(
			WithTrimSpace(true),
			WithIgnoreTrailingWhitespace(true),
			WithIgnoreEmptyLines(true),
		)

		actual := `
hello world

goodbye universe

`
		expected := `hello world
goodbye universe`

		ta.Assert(actual, expected)

		if mockT.errorCalled {
			t.Errorf("Expected no diff with all normalization options, got: %s", mockT.errorMessage)
		}
	})
}

func TestTextAsserter_Assert_Failure(t *testing.T) {
	// Use a mock testing.T to capture error messages
	mockT := &mockTestingT{}
	ta := NewTextAsserterT(mockT)

	ta.Assert("hello", "world")

	if !mockT.errorCalled {
		t.Error("Expected Errorf to be called for failed assertion")
	}

	if !contains(mockT.errorMessage, "Text assertion failed") {
		t.Errorf("Expected error message to contain 'Text assertion failed', got: %s", mockT.errorMessage)
	}
}

func TestTextAsserter_Assert_Success(t *testing.T) {
	// Use a mock testing.T to verify no error is called
	mockT := &mockTestingT{}
	ta := NewTextAsserterT(mockT)

	ta.Assert("hello", "hello")

	if mockT.errorCalled {
		t.Errorf("Expected no error for successful assertion, got: %s", mockT.errorMessage)
	}
}

func TestTextAsserter_DiffNamesDifferingLine(t *testing.T) {
	mockT := &mockTestingT{}
	ta := NewTextAsserterT(mockT)

	actual := `line1
line2
line3_actual`
	expected := `line1
line2
line3_expected`

	ta.Assert(actual, expected)

	if !mockT.errorCalled {
		t.Fatal("Expected diff for different content")
	}

	// Verify the unified diff points at the differing line
	if !contains(mockT.errorMessage, "line3_actual") || !contains(mockT.errorMessage, "line3_expected") {
		t.Errorf("Expected diff to mention both sides of the differing line, got: %s", mockT.errorMessage)
	}
}

// Helper types and functions for testing

type mockTestingT struct {
	errorCalled  bool
	errorMessage string
}

func (m *mockTestingT) Errorf(format string, args ...interface{}) {
	m.errorCalled = true
	m.errorMessage = fmt.Sprintf(format, args...)
}

func contains(str, substr string) bool {
	return strings.Contains(str, substr)
}
