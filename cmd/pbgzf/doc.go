/*Command pbgzf reads raw bytes from stdin and writes a parallel BGZF stream
to stdout, using --parallelism worker goroutines to compress blocks.

Usage: cat input.bin | pbgzf --parallelism=8 > output.bgzf
*/
package main
