package main

import "disclosure_report_drafter/cmd"

func main() {
	cmd.Execute()
}
