// Package main is the actionkit command line.
package main

func main() {
	Execute()
}
