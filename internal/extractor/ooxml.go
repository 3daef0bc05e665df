package extractor

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
)

// docxText returns the document paragraphs, one per line.
func docxText(file string) (string, error) {
	zr, err := zip.OpenReader(file)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			paras, err := paragraphs(f, "p", "t")
			if err != nil {
				return "", err
			}
			return strings.Join(paras, "\n"), nil
		}
	}
	return "", errors.New("word/document.xml not found")
}

// pptxText returns slide text in slide order.
func pptxText(file string) (string, int, error) {
	zr, err := zip.OpenReader(file)
	if err != nil {
		return "", 0, err
	}
	defer zr.Close()

	type slide struct {
		n int
		f *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		dir, name := path.Split(f.Name)
		if dir != "ppt/slides/" || !strings.HasPrefix(name, "slide") || !strings.HasSuffix(name, ".xml") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "slide"), ".xml"))
		if err != nil {
			continue
		}
		slides = append(slides, slide{n: n, f: f})
	}
	if len(slides) == 0 {
		return "", 0, errors.New("no slides found")
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	var b strings.Builder
	for i, s := range slides {
		paras, err := paragraphs(s.f, "p", "t")
		if err != nil {
			return "", 0, fmt.Errorf("slide %d: %w", s.n, err)
		}
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[Slide %d]", i+1)
		for _, p := range paras {
			b.WriteString("\n")
			b.WriteString(p)
		}
	}
	return b.String(), len(slides), nil
}

// paragraphs streams an OOXML part and collects the text runs (runTag) of
// each paragraph (paraTag). Namespace prefixes are ignored: w:p/w:t in Word,
// a:p/a:t in DrawingML.
func paragraphs(f *zip.File, paraTag, runTag string) ([]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var (
		out   []string
		cur   strings.Builder
		inRun bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case runTag:
				inRun = true
			case "tab":
				cur.WriteString("\t")
			case "br":
				cur.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case runTag:
				inRun = false
			case paraTag:
				if s := strings.TrimSpace(cur.String()); s != "" {
					out = append(out, s)
				}
				cur.Reset()
			}
		case xml.CharData:
			if inRun {
				cur.Write(t)
			}
		}
	}
	return out, nil
}
