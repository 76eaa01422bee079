package main

import "go.pilab.hu/forumsso/cmd/ssoctl/cmd"

func main() {
	cmd.Execute()
}
