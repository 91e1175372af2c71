package main

import "github.com/MeKo-Tech/doseocr/cmd/doseocr/cmd"

func main() {
	cmd.Execute()
}
