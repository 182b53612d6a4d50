// Command faceclient is the companion client for facedetect-server: it
// sends one detect or replace request and streams the image or error
// response it gets back, mirroring uqfaceclient's single-shot request/
// response shape.
package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/kstaniek/facedetect-server/internal/wire"
)

const progPrefix = "faceclient: "

func main() {
	os.Exit(run())
}

func run() int {
	params, code := parseCommandLine(os.Args[1:])
	if params == nil {
		return code
	}
	if code := checkFiles(params); code != 0 {
		return code
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort("localhost", params.portnum), 5*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%scannot connect to the server on port %q\n", progPrefix, params.portnum)
		return 19
	}
	defer conn.Close()

	primary, code := readImage(params)
	if code != 0 {
		return code
	}

	req := &wire.Request{Op: wire.OpDetect, Primary: primary}
	if params.replaceFileGiven {
		secondary, err := os.ReadFile(params.replaceFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%sunable to open the input file %q for reading\n", progPrefix, params.replaceFile)
			return 13
		}
		req.Op = wire.OpReplace
		req.Secondary = secondary
	}

	if _, err := conn.Write(wire.EncodeRequest(req)); err != nil {
		fmt.Fprintln(os.Stderr, progPrefix+"unexpected communication error")
		return 9
	}

	return receiveResponse(conn, params)
}

// readImage reads the primary image from --detectfile if given, else from
// standard input until EOF, mirroring create_image_buffer's unbounded
// growable read.
func readImage(params *cmdLineParams) ([]byte, int) {
	if !params.detectFileGiven {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintln(os.Stderr, progPrefix+"unexpected communication error")
			return nil, 9
		}
		return data, 0
	}
	data, err := os.ReadFile(params.detectFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%sunable to open the input file %q for reading\n", progPrefix, params.detectFile)
		return nil, 13
	}
	return data, 0
}

// receiveResponse reads one response frame and acts on its operation:
// OpImage is written to stdout or the named output file, OpError prints
// the payload and exits 11, anything else is a communication error.
func receiveResponse(conn net.Conn, params *cmdLineParams) int {
	resp, err := wire.ReadResponse(conn)
	if err != nil {
		fmt.Fprintln(os.Stderr, progPrefix+"unexpected communication error")
		return 9
	}

	switch resp.Op {
	case wire.OpImage:
		out := os.Stdout
		if params.outputFileNameGiven {
			f, err := os.OpenFile(params.outputFileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%sunable to open the output file %q for writing\n", progPrefix, params.outputFileName)
				return 5
			}
			defer f.Close()
			out = f
		}
		if _, err := out.Write(resp.Payload); err != nil {
			fmt.Fprintln(os.Stderr, progPrefix+"unexpected communication error")
			return 9
		}
		return 0
	case wire.OpError:
		fmt.Fprintf(os.Stderr, "%sreceived the following error message: %q\n", progPrefix, string(resp.Payload))
		return 11
	default:
		fmt.Fprintln(os.Stderr, progPrefix+"unexpected communication error")
		return 9
	}
}
