/*

Process of lowering

Listing Text ->
	parse ->
Lowering Requests (ir) ->
	back ->
Instruction Records (asm) ->
	text | msgpack ->
External Assembler

Operands of requests are already physical locations:
registers, frame slots and immediates.
The back end only picks instructions, it never allocates registers
besides the few scratch ones it is configured with.

*/
package compiler
