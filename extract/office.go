package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

const maxOfficeEntryBytes = 64 << 20

func openZip(data []byte) (*zip.Reader, error) {
	return zip.NewReader(bytes.NewReader(data), int64(len(data)))
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxOfficeEntryBytes))
}

// docxText collects paragraph text from word/document.xml.
func docxText(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		raw, err := readEntry(f)
		if err != nil {
			return "", err
		}
		return wordParagraphs(raw)
	}
	return "", errors.New("word/document.xml not found")
}

func wordParagraphs(raw []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}

// xlsxText renders every worksheet as tab-separated rows.
func xlsxText(data []byte) (string, error) {
	zr, err := openZip(data)
	if err != nil {
		return "", err
	}
	var shared []string
	var sheets []*zip.File
	for _, f := range zr.File {
		switch {
		case f.Name == "xl/sharedStrings.xml":
			raw, err := readEntry(f)
			if err != nil {
				return "", err
			}
			if shared, err = sharedStrings(raw); err != nil {
				return "", err
			}
		case strings.HasPrefix(f.Name, "xl/worksheets/sheet") && strings.HasSuffix(f.Name, ".xml"):
			sheets = append(sheets, f)
		}
	}
	if len(sheets) == 0 {
		return "", errors.New("no worksheets found")
	}
	sort.Slice(sheets, func(i, j int) bool {
		return sheetNumber(sheets[i].Name) < sheetNumber(sheets[j].Name)
	})

	var b strings.Builder
	for _, f := range sheets {
		raw, err := readEntry(f)
		if err != nil {
			return "", err
		}
		rows, err := sheetRows(raw, shared)
		if err != nil {
			return "", err
		}
		name := strings.TrimSuffix(strings.TrimPrefix(f.Name, "xl/worksheets/"), ".xml")
		fmt.Fprintf(&b, "## %s\n", name)
		for _, row := range rows {
			b.WriteString(strings.Join(row, "\t"))
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String()), nil
}

func sheetNumber(name string) int {
	base := strings.TrimSuffix(strings.TrimPrefix(name, "xl/worksheets/sheet"), ".xml")
	n, err := strconv.Atoi(base)
	if err != nil {
		return 1 << 30
	}
	return n
}

type sharedStringTable struct {
	Items []struct {
		Text string `xml:"t"`
		Runs []struct {
			Text string `xml:"t"`
		} `xml:"r"`
	} `xml:"si"`
}

func sharedStrings(raw []byte) ([]string, error) {
	var table sharedStringTable
	if err := xml.Unmarshal(raw, &table); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(table.Items))
	for _, item := range table.Items {
		if item.Text != "" || len(item.Runs) == 0 {
			out = append(out, item.Text)
			continue
		}
		var b strings.Builder
		for _, r := range item.Runs {
			b.WriteString(r.Text)
		}
		out = append(out, b.String())
	}
	return out, nil
}

type worksheet struct {
	Rows []struct {
		Cells []struct {
			Ref    string `xml:"r,attr"`
			Type   string `xml:"t,attr"`
			Value  string `xml:"v"`
			Inline struct {
				Text string `xml:"t"`
			} `xml:"is"`
		} `xml:"c"`
	} `xml:"sheetData>row"`
}

func sheetRows(raw []byte, shared []string) ([][]string, error) {
	var ws worksheet
	if err := xml.Unmarshal(raw, &ws); err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(ws.Rows))
	for _, r := range ws.Rows {
		var row []string
		for _, c := range r.Cells {
			col := columnIndex(c.Ref)
			for col >= 0 && len(row) < col {
				row = append(row, "")
			}
			value := c.Value
			switch c.Type {
			case "s":
				if idx, err := strconv.Atoi(c.Value); err == nil && idx >= 0 && idx < len(shared) {
					value = shared[idx]
				}
			case "inlineStr":
				value = c.Inline.Text
			}
			row = append(row, value)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// columnIndex converts the letters of a cell reference ("C7") to a zero-based
// column, or -1 when the reference is absent.
func columnIndex(ref string) int {
	col := 0
	seen := false
	for _, r := range ref {
		if r < 'A' || r > 'Z' {
			break
		}
		seen = true
		col = col*26 + int(r-'A'+1)
	}
	if !seen {
		return -1
	}
	return col - 1
}
