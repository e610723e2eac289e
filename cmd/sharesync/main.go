package main

import "github.com/rudransh-shrivastava/sharesync/internal/client/cmd"

func main() {
	cmd.Execute()
}
