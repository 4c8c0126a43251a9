// wavclient streams a WAV file to the caption service at realtime pace and
// prints the events it gets back. Useful for exercising the pipeline against
// recorded audio without a microphone.
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

// Standard PCM WAV header is 44 bytes.
const wavHeaderSize = 44

const chunkIntervalMs = 100

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16-bit PCM mono)")
	serverURL := flag.String("server", "ws://localhost:8080/v1/stream", "Caption service websocket URL")
	language := flag.String("language", "auto", "Source language hint")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)
	if audioFormat != 1 || bitsPerSample != 16 || numChannels != 1 {
		log.Fatal("Only 16-bit PCM mono supported")
	}

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", *serverURL)

	start := map[string]any{
		"type":           "start",
		"sampleRate":     int(sampleRate),
		"sourceLanguage": *language,
	}
	if err := conn.WriteJSON(start); err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}

	// Print captions as they arrive.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev map[string]any
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			switch {
			case ev["type"] == "started":
				log.Printf("Session %v started", ev["sessionId"])
			case ev["kind"] == "partial":
				fmt.Printf("  .. %v\n", ev["transcript"])
			case ev["kind"] == "final":
				if tr, ok := ev["translation"].(string); ok && tr != "" {
					fmt.Printf("FINAL [tick %v] %v → %v\n", ev["tick"], ev["transcript"], tr)
				} else {
					fmt.Printf("FINAL [tick %v] %v\n", ev["tick"], ev["transcript"])
				}
			case ev["kind"] == "error":
				log.Printf("Session error: %v", ev["error"])
			}
		}
	}()

	// Chunk size for 100ms of 16-bit mono audio at the file's rate.
	chunkSize := int(sampleRate) / 10 * 2
	buf := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	for {
		n, err := f.Read(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}

		chunkNum++
		totalBytes += int64(n)
		if err := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
			log.Fatalf("Failed to send frame: %v", err)
		}
		if chunkNum%50 == 0 {
			log.Printf("Sent chunk %d (%d bytes total)", chunkNum, totalBytes)
		}

		// Pace like a live microphone.
		time.Sleep(chunkIntervalMs * time.Millisecond)
	}

	elapsed := time.Since(startTime)
	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, elapsed)

	// Give the pipeline a moment to flush finals, then stop.
	time.Sleep(2 * time.Second)
	if err := conn.WriteJSON(map[string]any{"type": "stop"}); err != nil {
		log.Fatalf("Failed to stop session: %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
	log.Println("Done")
}
