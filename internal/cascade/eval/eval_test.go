package eval

import "testing"

func TestEval_ComparisonsAndLogic(t *testing.T) {
	vars := map[string]any{
		"age":   25,
		"score": 720,
	}

	ok, err := Eval(`age>=18 && score>700`, vars)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("expected true")
	}
}

func TestEval_MemberAccessOnTierValue(t *testing.T) {
	vars := map[string]any{"value": map[string]any{"ok": true, "confidence": 0.93}}

	ok, err := Eval(`value.ok == true && value.confidence > 0.9`, vars)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("expected true")
	}
}

func TestEval_EmptyIsTrue(t *testing.T) {
	ok, err := Eval("   ", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("expected empty condition to be true")
	}
}

func TestEval_NonBoolFails(t *testing.T) {
	_, err := Eval(`score`, map[string]any{"score": 1})
	if err == nil {
		t.Fatalf("expected error for non-bool result")
	}
}

func TestEval_UndefinedVariableIsNil(t *testing.T) {
	ok, err := Eval(`missing == nil`, map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("expected undefined variable to be nil")
	}
}

func TestValidate_BlocksFunctionCall(t *testing.T) {
	_, err := Eval(`exec("rm")`, map[string]any{})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidate_BlocksUnlistedBuiltin(t *testing.T) {
	if err := Validate(`now() > date("2020-01-01")`); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidate_AllowsSafeBuiltins(t *testing.T) {
	ok, err := Eval(`len(items) == 2 && lower(name) == "x"`, map[string]any{"items": []any{1, 2}, "name": "X"})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("expected true")
	}
}

func TestValidate_AllowsParentheses(t *testing.T) {
	vars := map[string]any{"a": true, "b": false, "c": true}

	ok, err := Eval(`a && (b || c)`, vars)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("expected true")
	}
}

func TestProgram_RunReturnsValues(t *testing.T) {
	p, err := Compile(`score > 700 ? {"approved": true} : nil`)
	if err != nil {
		t.Fatal(err)
	}

	out, err := p.Run(map[string]any{"score": 720})
	if err != nil {
		t.Fatal(err)
	}
	m, ok := out.(map[string]any)
	if !ok || m["approved"] != true {
		t.Fatalf("unexpected value %#v", out)
	}

	out, err = p.Run(map[string]any{"score": 10})
	if err != nil {
		t.Fatal(err)
	}
	if out != nil {
		t.Fatalf("expected nil, got %#v", out)
	}
}
