// Package main is the entry point for the precord registration service.
package main

func main() {
	Execute()
}
