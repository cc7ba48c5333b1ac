package main

import "github.com/roamio/chatsync/cmd/chatsync/cmd"

func main() {
	cmd.Execute()
}
