package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

func openZipEntry(data []byte, name string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("open %s: %w", name, err)
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("missing archive entry %s", name)
}

func listZipEntries(data []byte, prefix, suffix string) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	var names []string
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, prefix) && strings.HasSuffix(f.Name, suffix) {
			names = append(names, f.Name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return entryOrdinal(names[i]) < entryOrdinal(names[j])
	})
	return names, nil
}

// entryOrdinal orders slide3.xml after slide2.xml, not after slide29.
func entryOrdinal(name string) int {
	digits := ""
	for _, r := range name {
		if r >= '0' && r <= '9' {
			digits += string(r)
		}
	}
	n, _ := strconv.Atoi(digits)
	return n
}

// collectParagraphs walks WordprocessingML or DrawingML and emits one
// line per paragraph element, joining the text runs inside it.
func collectParagraphs(xmlData []byte, paraLocal string, textLocal string) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(xmlData))
	var (
		paras   []string
		current strings.Builder
		inPara  bool
		inText  bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case paraLocal:
				inPara = true
				current.Reset()
			case textLocal:
				inText = inPara
			case "tab":
				if inPara {
					current.WriteByte('\t')
				}
			case "br":
				if inPara {
					current.WriteByte('\n')
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case paraLocal:
				if line := strings.TrimSpace(current.String()); line != "" {
					paras = append(paras, line)
				}
				inPara = false
			case textLocal:
				inText = false
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	return paras, nil
}

func extractDocx(data []byte, _ string) (Result, error) {
	doc, err := openZipEntry(data, "word/document.xml")
	if err != nil {
		return Result{}, err
	}
	paras, err := collectParagraphs(doc, "p", "t")
	if err != nil {
		return Result{}, err
	}
	b := newBuilder()
	for _, p := range paras {
		b.AddBlock(p)
	}
	return b.Result(""), nil
}

// extractPptx flattens each slide into one block.
func extractPptx(data []byte, _ string) (Result, error) {
	slides, err := listZipEntries(data, "ppt/slides/slide", ".xml")
	if err != nil {
		return Result{}, err
	}
	b := newBuilder()
	for i, name := range slides {
		slideXML, err := openZipEntry(data, name)
		if err != nil {
			return Result{}, err
		}
		paras, err := collectParagraphs(slideXML, "p", "t")
		if err != nil {
			return Result{}, err
		}
		if len(paras) == 0 {
			continue
		}
		b.AddBlock(fmt.Sprintf("Slide %d\n%s", i+1, strings.Join(paras, "\n")))
	}
	return b.Result(""), nil
}

// extractODF handles odt, odp and ods: OpenDocument keeps all body
// text in content.xml under text:p and text:h elements.
func extractODF(data []byte, _ string) (Result, error) {
	content, err := openZipEntry(data, "content.xml")
	if err != nil {
		return Result{}, err
	}
	dec := xml.NewDecoder(bytes.NewReader(content))
	var (
		paras   []string
		current strings.Builder
		depth   int
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p", "h":
				if depth == 0 {
					current.Reset()
				}
				depth++
			case "tab":
				if depth > 0 {
					current.WriteByte('\t')
				}
			case "line-break":
				if depth > 0 {
					current.WriteByte('\n')
				}
			}
		case xml.EndElement:
			if t.Name.Local == "p" || t.Name.Local == "h" {
				depth--
				if depth == 0 {
					if line := strings.TrimSpace(current.String()); line != "" {
						paras = append(paras, line)
					}
				}
			}
		case xml.CharData:
			if depth > 0 {
				current.Write(t)
			}
		}
	}
	b := newBuilder()
	for _, p := range paras {
		b.AddBlock(p)
	}
	return b.Result(""), nil
}

// extractXlsx renders each sheet's rows as pipe-joined lines, one
// block per sheet.
func extractXlsx(data []byte, _ string) (Result, error) {
	shared, err := xlsxSharedStrings(data)
	if err != nil {
		return Result{}, err
	}
	sheets, err := listZipEntries(data, "xl/worksheets/sheet", ".xml")
	if err != nil {
		return Result{}, err
	}
	b := newBuilder()
	for i, name := range sheets {
		sheetXML, err := openZipEntry(data, name)
		if err != nil {
			return Result{}, err
		}
		rows, err := xlsxRows(sheetXML, shared)
		if err != nil {
			return Result{}, err
		}
		if len(rows) == 0 {
			continue
		}
		b.AddBlock(fmt.Sprintf("Sheet %d\n%s", i+1, strings.Join(rows, "\n")))
	}
	return b.Result(""), nil
}

func xlsxSharedStrings(data []byte) ([]string, error) {
	raw, err := openZipEntry(data, "xl/sharedStrings.xml")
	if err != nil {
		// Workbooks with only numeric cells omit the table.
		return nil, nil
	}
	dec := xml.NewDecoder(bytes.NewReader(raw))
	var (
		strs    []string
		current strings.Builder
		inItem  bool
		inText  bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse shared strings: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				inItem = true
				current.Reset()
			case "t":
				inText = inItem
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "si":
				strs = append(strs, current.String())
				inItem = false
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	return strs, nil
}

func xlsxRows(sheetXML []byte, shared []string) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(sheetXML))
	var (
		rows     []string
		cells    []string
		cellType string
		value    strings.Builder
		inValue  bool
		inRow    bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse sheet: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "row":
				inRow = true
				cells = cells[:0]
			case "c":
				cellType = ""
				for _, attr := range t.Attr {
					if attr.Name.Local == "t" {
						cellType = attr.Value
					}
				}
			case "v", "t":
				if inRow {
					inValue = true
					value.Reset()
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "row":
				line := strings.TrimSpace(strings.Join(cells, " | "))
				if strings.Trim(line, " |") != "" {
					rows = append(rows, line)
				}
				inRow = false
			case "v", "t":
				if inValue {
					cells = append(cells, resolveCell(cellType, value.String(), shared))
					inValue = false
				}
			}
		case xml.CharData:
			if inValue {
				value.Write(t)
			}
		}
	}
	return rows, nil
}

func resolveCell(cellType, raw string, shared []string) string {
	if cellType == "s" {
		idx, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && idx >= 0 && idx < len(shared) {
			return strings.TrimSpace(shared[idx])
		}
		return ""
	}
	return strings.TrimSpace(raw)
}
