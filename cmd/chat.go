package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"disclosure_report_drafter/diff"
	"disclosure_report_drafter/extract"
	"disclosure_report_drafter/generator"
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	changeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

const chatHelp = `命令：/attach <路径> 附加文件  /show 查看草稿  /diff 查看上次修改  /save <路径> 保存草稿  /quit 退出`

// runChat reads revision requests line by line until EOF or /quit.
func runChat(cmd *cobra.Command, sess *generator.Session, timeout time.Duration) error {
	in := bufio.NewScanner(cmd.InOrStdin())
	in.Buffer(make([]byte, 64*1024), 1<<20)
	out := cmd.OutOrStdout()

	var (
		pending  []extract.File
		lastDiff []diff.Hunk
	)
	fmt.Fprintln(out, noticeStyle.Render(chatHelp))
	for {
		fmt.Fprint(out, promptStyle.Render("你> "))
		if !in.Scan() {
			fmt.Fprintln(out)
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			verb, arg, _ := strings.Cut(line, " ")
			arg = strings.TrimSpace(arg)
			switch verb {
			case "/quit", "/exit":
				return nil
			case "/attach":
				f, err := readFile(arg)
				if err != nil {
					fmt.Fprintln(out, noticeStyle.Render(err.Error()))
					continue
				}
				pending = append(pending, f)
				fmt.Fprintln(out, noticeStyle.Render(fmt.Sprintf("已附加 %s（%s），将随下一条消息发送", f.Name, f.MIMEType)))
			case "/show":
				if d, ok := sess.Draft(); ok {
					fmt.Fprintln(out, d.Markdown)
				}
			case "/diff":
				if len(lastDiff) == 0 {
					fmt.Fprintln(out, noticeStyle.Render("暂无修改"))
					continue
				}
				fmt.Fprint(out, diff.Unified(lastDiff))
			case "/save":
				d, _ := sess.Draft()
				if err := os.WriteFile(arg, []byte(d.Markdown), 0o644); err != nil {
					fmt.Fprintln(out, noticeStyle.Render(err.Error()))
					continue
				}
				fmt.Fprintln(out, noticeStyle.Render("已保存到 "+arg))
			default:
				fmt.Fprintln(out, noticeStyle.Render(chatHelp))
			}
			continue
		}

		rev, err := revise(cmd.Context(), out, sess, line, pending, timeout)
		pending = nil
		if err != nil {
			return err
		}
		if rev.DocumentReplaced {
			lastDiff = rev.Hunks
			fmt.Fprintln(out, changeStyle.Render(fmt.Sprintf("草稿已更新：+%d -%d 行（/diff 查看）", rev.Changes.Added, rev.Changes.Removed)))
		}
	}
}

func revise(ctx context.Context, out io.Writer, sess *generator.Session, text string, attachments []extract.File, timeout time.Duration) (generator.Revision, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	p := &deltaPrinter{w: out}
	rev, err := sess.Revise(ctx, text, attachments, p.print)
	p.finish()
	return rev, err
}
