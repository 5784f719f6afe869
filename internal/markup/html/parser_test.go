package html

import "testing"

type recordingHandler struct {
	tagStarts    []Tag
	attrs        []Attribute
	tagsFinished []Tag
	cdata        []string
	wantAttrs    bool
}

func (h *recordingHandler) OnTagStart(tag Tag) bool {
	h.tagStarts = append(h.tagStarts, tag)
	return h.wantAttrs
}
func (h *recordingHandler) OnTagFinished(tag Tag) bool {
	h.tagsFinished = append(h.tagsFinished, tag)
	return true
}
func (h *recordingHandler) OnAttributeFinished(attr Attribute) {
	h.attrs = append(h.attrs, attr)
}
func (h *recordingHandler) OnCdata(text []byte, escaped bool, start int64) int {
	h.cdata = append(h.cdata, string(text))
	return len(text)
}

func feedAll(p *Parser, data []byte) {
	for len(data) > 0 {
		n := p.Feed(data)
		if n == 0 {
			return
		}
		data = data[n:]
	}
}

func TestParserTagWithAttributes(t *testing.T) {
	h := &recordingHandler{wantAttrs: true}
	p := NewParser(h)
	feedAll(p, []byte(`<a href="/x" class='y'>text</a>`))

	if len(h.tagStarts) != 2 || h.tagStarts[0].Name != "a" || h.tagStarts[0].Type != TagOpen {
		t.Fatalf("tag starts = %+v", h.tagStarts)
	}
	if len(h.attrs) != 2 {
		t.Fatalf("attrs = %+v", h.attrs)
	}
	if h.attrs[0].Name != "href" || h.attrs[0].Value != "/x" {
		t.Fatalf("attr[0] = %+v", h.attrs[0])
	}
	if h.attrs[1].Name != "class" || h.attrs[1].Value != "y" {
		t.Fatalf("attr[1] = %+v", h.attrs[1])
	}
	if len(h.cdata) == 0 || h.cdata[len(h.cdata)-1] != "text" {
		t.Fatalf("cdata = %+v", h.cdata)
	}
	if h.tagStarts[1].Name != "a" || h.tagStarts[1].Type != TagClose {
		t.Fatalf("close tag = %+v", h.tagStarts[1])
	}
}

func TestParserShortTag(t *testing.T) {
	h := &recordingHandler{wantAttrs: true}
	p := NewParser(h)
	feedAll(p, []byte(`<img src="x.png"/>`))
	if len(h.tagsFinished) != 1 || h.tagsFinished[0].Type != TagShort {
		t.Fatalf("finished = %+v", h.tagsFinished)
	}
}

func TestParserProcessingInstruction(t *testing.T) {
	h := &recordingHandler{wantAttrs: true}
	p := NewParser(h)
	feedAll(p, []byte(`<?cm4all-rewrite-uri base="x" mode="focus"?>`))
	if len(h.tagStarts) != 1 || h.tagStarts[0].Type != TagPI || h.tagStarts[0].Name != "cm4all-rewrite-uri" {
		t.Fatalf("tag = %+v", h.tagStarts)
	}
	if len(h.attrs) != 2 {
		t.Fatalf("attrs = %+v", h.attrs)
	}
}

func TestParserUnwantedAttributesAreSkipped(t *testing.T) {
	h := &recordingHandler{wantAttrs: false}
	p := NewParser(h)
	feedAll(p, []byte(`<div class="boring">after</div>`))
	if len(h.attrs) != 0 {
		t.Fatalf("expected no attributes parsed, got %+v", h.attrs)
	}
	if len(h.cdata) == 0 || h.cdata[len(h.cdata)-1] != "after" {
		t.Fatalf("cdata = %+v", h.cdata)
	}
}

func TestParserScriptModeIgnoresMarkupUntilClosingTag(t *testing.T) {
	h := &recordingHandler{wantAttrs: true}
	p := NewParser(h)
	feedAll(p, []byte(`<script type="text/javascript">`))
	p.Script()
	feedAll(p, []byte(`if (1<2) { alert('<b>not a tag</b>'); }</script>`))

	found := false
	for _, tag := range h.tagStarts {
		if tag.Name == "script" && tag.Type == TagClose {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a closing </script> tag to be recognised, got %+v", h.tagStarts)
	}
}

func TestParserCommentIsSkipped(t *testing.T) {
	h := &recordingHandler{wantAttrs: true}
	p := NewParser(h)
	feedAll(p, []byte(`before<!-- <a href="x"> --><p>after</p>`))
	if len(h.attrs) != 0 {
		t.Fatalf("comment contents should not be parsed as markup, got attrs=%+v", h.attrs)
	}
	if len(h.tagStarts) != 2 || h.tagStarts[0].Name != "p" {
		t.Fatalf("tags = %+v", h.tagStarts)
	}
}

func TestParserCdataSection(t *testing.T) {
	h := &recordingHandler{wantAttrs: true}
	p := NewParser(h)
	feedAll(p, []byte(`<![CDATA[<not>a & tag]]>after`))
	joined := ""
	for _, s := range h.cdata {
		joined += s
	}
	if joined != "<not>a & tagafter" {
		t.Fatalf("cdata joined = %q", joined)
	}
	if len(h.tagStarts) != 0 {
		t.Fatalf("CDATA contents must not be parsed as tags, got %+v", h.tagStarts)
	}
}

func TestParserByteAtATime(t *testing.T) {
	h := &recordingHandler{wantAttrs: true}
	p := NewParser(h)
	input := []byte(`<a href="/x">hi</a>`)
	for _, b := range input {
		feedAll(p, []byte{b})
	}
	if len(h.attrs) != 1 || h.attrs[0].Value != "/x" {
		t.Fatalf("attrs = %+v", h.attrs)
	}
}
