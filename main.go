package main

import "github.com/choptalini/chatbot/cmd"

func main() {
	cmd.Execute()
}
