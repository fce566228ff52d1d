package status

import "testing"

func TestConsumerEmitAccumulatesInOrder(t *testing.T) {
	c := New()
	c.Emit("first")
	c.Emit("second")

	lines := c.Lines()
	if len(lines) != 2 || lines[0] != "first" || lines[1] != "second" {
		t.Fatalf("unexpected lines: %v", lines)
	}
}

func TestConsumerForkIndentsAndSharesBuffer(t *testing.T) {
	c := New()
	c.Emit("root")
	child := c.Fork()
	child.Emit("nested")
	child.Join()

	lines := c.Lines()
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %v", len(lines), lines)
	}
	if lines[0] != "root" {
		t.Fatalf("root line = %q, want %q", lines[0], "root")
	}
	if lines[1] != "  nested" {
		t.Fatalf("child line = %q, want indented %q", lines[1], "  nested")
	}
}

func TestConsumerForkNestsIndentationPerLevel(t *testing.T) {
	c := New()
	grandchild := c.Fork().Fork()
	grandchild.Emit("deep")

	lines := c.Lines()
	if len(lines) != 1 || lines[0] != "    deep" {
		t.Fatalf("got %v, want one line indented two levels", lines)
	}
}
