package generator

import (
	"fmt"
	"strings"
)

// Prompt 表示发送给 LLM 的指令集合。
type Prompt struct {
	System string
	User   string
}

var toneWording = map[Tone]string{
	ToneFormal:     "正式、严谨，符合上市公司披露文件的措辞习惯",
	ToneNeutral:    "客观、中立，以事实和数据陈述为主",
	ToneConcise:    "简洁、直接，避免冗长铺陈",
	TonePersuasive: "积极、有说服力，突出成效与承诺，但不得夸大事实",
}

// BuildReportPrompt 生成首稿提示词。
func BuildReportPrompt(params ReportParams, rawText string, urls []string, standardsContext string) Prompt {
	var sb strings.Builder
	sb.WriteString("请撰写一份可持续发展信息披露报告草稿，直接输出 Markdown，不要额外解释。\n")
	sb.WriteString("要求：\n")
	if params.Company != "" {
		sb.WriteString(fmt.Sprintf("- 报告主体：%s。\n", params.Company))
	}
	if params.Period != "" {
		sb.WriteString(fmt.Sprintf("- 报告期间：%s。\n", params.Period))
	}
	sb.WriteString(fmt.Sprintf("- 遵循的披露准则：%s。\n", strings.Join(params.Standards, "、")))
	sb.WriteString(fmt.Sprintf("- 目标篇幅约 %d 字（允许 ±15%%）。\n", params.Length))
	sb.WriteString(fmt.Sprintf("- 语气：%s。\n", toneWording[params.Tone.Normalize()]))
	if params.IncludeTables {
		sb.WriteString("- 用 Markdown 表格呈现关键量化指标。\n")
	}
	if params.IncludeCharts {
		sb.WriteString("- 在适合可视化的位置给出图表建议（图表类型、横纵轴与数据来源）。\n")
	}
	sb.WriteString("- 必须包含一级标题作为报告标题，开头给出 80~140 字的摘要。\n")
	sb.WriteString("- 只使用提供的资料与可核实的公开信息，缺失的数据用「【待补充】」标注，不得编造。\n")

	if standardsContext != "" {
		sb.WriteString("\n## 准则参考\n")
		sb.WriteString(standardsContext)
		sb.WriteString("\n")
	}
	if strings.TrimSpace(rawText) != "" {
		sb.WriteString("\n## 公司资料\n")
		sb.WriteString(strings.TrimSpace(rawText))
		sb.WriteString("\n")
	}
	if hasURL(urls) {
		sb.WriteString("\n## 参考链接（请检索并核实其内容）\n")
		for _, u := range urls {
			if u = strings.TrimSpace(u); u != "" {
				sb.WriteString(fmt.Sprintf("- %s\n", u))
			}
		}
	}
	sb.WriteString("\n随附文件（如有）紧随本说明之后。")

	return Prompt{
		System: "你是一名资深的可持续发展报告撰写顾问，严守 Markdown 结构，禁止输出额外说明。",
		User:   sb.String(),
	}
}

// BuildDialogueSystem 生成对话修订阶段的系统提示词。
func BuildDialogueSystem(referenceContext, company string) string {
	var sb strings.Builder
	sb.WriteString("你是一名专业的报告编辑，帮助用户逐步完善当前的信息披露报告草稿。\n")
	if company != "" {
		sb.WriteString(fmt.Sprintf("- 报告主体：%s。\n", company))
	}
	sb.WriteString("- 回答问题时简明扼要。\n")
	sb.WriteString(fmt.Sprintf("- 需要修改报告时，调用 %s 工具并传入修改后的完整报告全文（Markdown），不要只传入片段。\n", ToolUpdateReport))
	sb.WriteString("- 调用工具后，用一两句话向用户说明做了哪些修改。\n")
	sb.WriteString("- 维持标题层级、表格与列表格式；缺失数据用「【待补充】」标注，不得编造。\n")
	if referenceContext != "" {
		sb.WriteString("\n## 准则参考\n")
		sb.WriteString(referenceContext)
	}
	return sb.String()
}

// 会话初始化时写入的两条合成消息。
const seedAcknowledgement = "好的，我已了解当前的报告草稿。请告诉我需要如何修改。"

func seedDraftMessage(document string) string {
	return "当前的报告草稿如下：\n\n" + document
}
