/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "texclaw/cmd"

func main() {
	cmd.Execute()
}
