package lexer

import "testing"

func kinds(toks []Token) []Kind {
	ks := make([]Kind, len(toks))
	for i, t := range toks {
		ks[i] = t.Kind
	}
	return ks
}

func TestLexHeaderAndMetadata(t *testing.T) {
	src := "Profile: MyPatient\nParent: Patient\nTitle: \"My Patient\"\n"
	toks, res := Lex("p.fsh", src)
	if res.HasErrors() {
		t.Fatalf("unexpected errors: %v", res.Errors())
	}

	want := []Kind{
		KindKeyword, KindIdent, KindNewline,
		KindKeyword, KindIdent, KindNewline,
		KindKeyword, KindString, KindNewline,
		KindEOF,
	}
	got := kinds(toks)
	if len(got) != len(want) {
		t.Fatalf("token count = %d; want %d\ngot: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tok[%d].Kind = %v; want %v", i, got[i], want[i])
		}
	}
	if toks[1].Text != "MyPatient" {
		t.Errorf("tok[1].Text = %q; want %q", toks[1].Text, "MyPatient")
	}
}

func TestLexCardinalityRule(t *testing.T) {
	src := "* name 1..* MS\n"
	toks, res := Lex("p.fsh", src)
	if res.HasErrors() {
		t.Fatalf("unexpected errors: %v", res.Errors())
	}

	want := []Kind{KindStar, KindIdent, KindNumber, KindDotDot, KindStarWildcard, KindIdent, KindNewline, KindEOF}
	got := kinds(toks)
	if len(got) != len(want) {
		t.Fatalf("token count = %d; want %d\ngot: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tok[%d].Kind = %v; want %v", i, got[i], want[i])
		}
	}
}

func TestLexCodeLiteral(t *testing.T) {
	src := "* status = http://hl7.org/fhir/CodeSystem/status#active\n"
	toks, _ := Lex("p.fsh", src)

	var codeTok *Token
	for i := range toks {
		if toks[i].Kind == KindCode {
			codeTok = &toks[i]
			break
		}
	}
	if codeTok == nil {
		t.Fatal("no KindCode token found")
	}
	if codeTok.Text != "http://hl7.org/fhir/CodeSystem/status#active" {
		t.Errorf("code token = %q", codeTok.Text)
	}
}

func TestLexCaretRule(t *testing.T) {
	src := "* . ^short = \"a short description\"\n"
	toks, _ := Lex("p.fsh", src)

	var caretTok *Token
	for i := range toks {
		if toks[i].Kind == KindCaret {
			caretTok = &toks[i]
			break
		}
	}
	if caretTok == nil {
		t.Fatal("no KindCaret token found")
	}
	if caretTok.Text != "^short" {
		t.Errorf("caret token = %q; want %q", caretTok.Text, "^short")
	}
}

func TestDedentStripsCommonIndentAndBlankEdges(t *testing.T) {
	in := "\n  line one\n  line two\n    indented more\n\n"
	got := dedent(in)
	want := "line one\nline two\n  indented more\n"
	if got != want {
		t.Errorf("dedent() = %q; want %q", got, want)
	}
}

func TestLexTripleQuotedString(t *testing.T) {
	src := "Description: \"\"\"\n  Line one.\n  Line two.\n  \"\"\"\n"
	toks, res := Lex("p.fsh", src)
	if res.HasErrors() {
		t.Fatalf("unexpected errors: %v", res.Errors())
	}

	var strTok *Token
	for i := range toks {
		if toks[i].Kind == KindString {
			strTok = &toks[i]
			break
		}
	}
	if strTok == nil {
		t.Fatal("no KindString token found")
	}
	want := "Line one.\nLine two."
	if strTok.Text != want {
		t.Errorf("triple-quoted text = %q; want %q", strTok.Text, want)
	}
}

func TestLexUnterminatedStringWarns(t *testing.T) {
	src := "* name = \"unterminated\n"
	_, res := Lex("p.fsh", src)
	if !res.HasErrors() && len(res.Warnings()) == 0 {
		t.Fatal("expected a warning for unterminated string")
	}
}
