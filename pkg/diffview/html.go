package diffview

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

type cell struct {
	Num   int // 0 for a blank cell
	Text  string
	Class string
}

type row struct {
	ID       string
	NextText string
	NextHref string
	Left     cell
	Right    cell
}

type page struct {
	LeftTitle  string
	RightTitle string
	Rows       []row
	Identical  bool
}

var pageTemplate = template.Must(template.New("diff").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Diff {{.LeftTitle}} vs. {{.RightTitle}}</title>
    <style type="text/css">
        table {font-family:Courier; border:medium}
        .diff_header {background-color:#e0e0e0; padding:0px 10px}
        td.diff_header {text-align:right}
        .diff_next {background-color:#c0c0c0; padding:0px 10px}
        .diff_text {white-space:pre}
        .diff_add {background-color:#aaffaa}
        .diff_chg {background-color:#ffff77}
        .diff_sub {background-color:#ffaaaa}
    </style>
</head>
<body>
    <a id="top"></a>
    <table>
        <tr><td><table>
            <tr><th>Colors</th></tr>
            <tr><td class="diff_add">Added</td></tr>
            <tr><td class="diff_chg">Changed</td></tr>
            <tr><td class="diff_sub">Deleted</td></tr>
        </table></td><td><table>
            <tr><th>Links</th></tr>
            <tr><td>(f)irst change</td></tr>
            <tr><td>(n)ext change</td></tr>
            <tr><td>(t)op</td></tr>
        </table></td><td><table>
            <tr><th>Files</th></tr>
            <tr><td>Left: {{.LeftTitle}}</td></tr>
            <tr><td>Right: {{.RightTitle}}</td></tr>
        </table></td></tr>
    </table>
    <table class="diff" cellspacing="0" cellpadding="0" rules="groups">
        <colgroup></colgroup> <colgroup></colgroup> <colgroup></colgroup>
        <colgroup></colgroup> <colgroup></colgroup> <colgroup></colgroup>
        <thead><tr>
            <th class="diff_next"><br></th><th colspan="2" class="diff_header">{{.LeftTitle}}</th>
            <th class="diff_next"><br></th><th colspan="2" class="diff_header">{{.RightTitle}}</th>
        </tr></thead>
        <tbody>
{{- if .Identical}}
            <tr><td class="diff_next"></td><td colspan="5">No Differences Found</td></tr>
{{- end}}
{{- range .Rows}}
            <tr{{with .ID}} id="{{.}}"{{end}}><td class="diff_next">{{if .NextHref}}<a href="{{.NextHref}}">{{.NextText}}</a>{{end}}</td>{{template "cell" .Left}}<td class="diff_next"></td>{{template "cell" .Right}}</tr>
{{- end}}
        </tbody>
    </table>
</body>
</html>
{{define "cell"}}<td class="diff_header">{{if .Num}}{{.Num}}{{end}}</td><td class="diff_text{{with .Class}} {{.}}{{end}}">{{.Text}}</td>{{end}}`))

// RenderHTML renders a side-by-side diff of left and right as a complete HTML
// document. Styles are inline and nothing outside the document is referenced.
// Changed, added and deleted lines carry the diff_chg, diff_add and diff_sub
// classes; every block of changes is anchored and linked from the previous
// one.
func RenderHTML(leftTitle string, left []string, rightTitle string, right []string) (string, error) {
	p := page{LeftTitle: leftTitle, RightTitle: rightTitle}

	blocks := 0
	for _, op := range difflib.NewMatcher(left, right).GetOpCodes() {
		if op.Tag == tagEqual {
			for i, j := op.I1, op.J1; i < op.I2; i, j = i+1, j+1 {
				p.Rows = append(p.Rows, row{
					Left:  cell{Num: i + 1, Text: left[i]},
					Right: cell{Num: j + 1, Text: right[j]},
				})
			}
			continue
		}

		first := len(p.Rows)
		n := op.I2 - op.I1
		if m := op.J2 - op.J1; m > n {
			n = m
		}
		for k := 0; k < n; k++ {
			var r row
			i, j := op.I1+k, op.J1+k
			hasLeft, hasRight := i < op.I2, j < op.J2
			switch {
			case hasLeft && hasRight:
				r.Left = cell{Num: i + 1, Text: left[i], Class: "diff_chg"}
				r.Right = cell{Num: j + 1, Text: right[j], Class: "diff_chg"}
			case hasLeft:
				r.Left = cell{Num: i + 1, Text: left[i], Class: "diff_sub"}
			case hasRight:
				r.Right = cell{Num: j + 1, Text: right[j], Class: "diff_add"}
			}
			p.Rows = append(p.Rows, r)
		}

		p.Rows[first].ID = fmt.Sprintf("difflib_chg_%d", blocks)
		blocks++
	}

	if blocks == 0 {
		p.Identical = true
	} else {
		linkBlocks(p.Rows, blocks)
	}

	var sb strings.Builder
	if err := pageTemplate.Execute(&sb, p); err != nil {
		return "", fmt.Errorf("diffview: render: %w", err)
	}
	return sb.String(), nil
}

// linkBlocks fills the navigation column: the first row links to the first
// change, each change links to the next one and the last change links back
// to the top.
func linkBlocks(rows []row, blocks int) {
	if rows[0].ID == "" {
		rows[0].NextText, rows[0].NextHref = "f", "#difflib_chg_0"
	}

	block := 0
	for i := range rows {
		if rows[i].ID == "" {
			continue
		}
		block++
		if block < blocks {
			rows[i].NextText, rows[i].NextHref = "n", fmt.Sprintf("#difflib_chg_%d", block)
		} else {
			rows[i].NextText, rows[i].NextHref = "t", "#top"
		}
	}
}
