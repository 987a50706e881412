package main

import "pluginmgr/internal/pluginmgr"

func main() {
	pluginmgr.Main()
}
