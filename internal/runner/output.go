package runner

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/kingrea/converge/internal/report"
)

const bannerWidth = 79

// printer renders run progress in the classic banner form:
//
//	PLAY [web servers] *********************
//	TASK [install nginx] *******************
//	changed: [web01]
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

func (p *printer) banner(label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pad := bannerWidth - len(label) - 1
	if pad < 3 {
		pad = 3
	}
	fmt.Fprintf(p.out, "\n%s %s\n", label, strings.Repeat("*", pad))
}

func (p *printer) play(name string) {
	p.banner(fmt.Sprintf("PLAY [%s]", name))
}

func (p *printer) task(name string) {
	p.banner(fmt.Sprintf("TASK [%s]", name))
}

func (p *printer) handler(name string) {
	p.banner(fmt.Sprintf("RUNNING HANDLER [%s]", name))
}

func (p *printer) line(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, text)
}

func (p *printer) result(host, status, msg string, ignored bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case ignored:
		fmt.Fprintf(p.out, "failed: [%s] => %s ...ignoring\n", host, msg)
	case status == report.StatusFailed, status == report.StatusUnreachable:
		fmt.Fprintf(p.out, "failed: [%s] => %s\n", host, msg)
	case status == report.StatusSkipped:
		fmt.Fprintf(p.out, "skipping: [%s]\n", host)
	case status == report.StatusChanged:
		fmt.Fprintf(p.out, "changed: [%s]\n", host)
	default:
		fmt.Fprintf(p.out, "ok: [%s]\n", host)
	}
}

func (p *printer) recap(rep *report.RunReport) {
	p.banner("PLAY RECAP")
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, line := range rep.RecapLines() {
		fmt.Fprintln(p.out, line)
	}
}
