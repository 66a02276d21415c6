// Package main is the entry point for apimech.
package main

func main() {
	Execute()
}
