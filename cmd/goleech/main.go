package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/tgrigore/goleech/bencode"
	"github.com/tgrigore/goleech/client"
	"github.com/tgrigore/goleech/metainfo"
	"github.com/tgrigore/goleech/tracker"
)

func usage() {
	fmt.Fprintf(os.Stderr, `%s <command> [arguments]

    decode <value>                            print a bencoded value as JSON
    info <torrent>                            print the torrent metainfo
    peers <torrent>                           print the peers from the tracker
    handshake <torrent> <ip:port>             handshake with a peer
    download_piece -o <out> <torrent> <index> download a single piece
    download -o <out> <torrent>               download the whole file
`, os.Args[0])
	os.Exit(2)
}

func main() {
	log.SetOutput(os.Stderr)
	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "decode":
		err = runDecode(os.Args[2:])
	case "info":
		err = runInfo(os.Args[2:])
	case "peers":
		err = runPeers(os.Args[2:])
	case "handshake":
		err = runHandshake(os.Args[2:])
	case "download_piece":
		err = runDownloadPiece(os.Args[2:])
	case "download":
		err = runDownload(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		log.Fatal(err)
	}
}

func config() client.Config {
	return client.Config{PeerID: tracker.DefaultPeerID()}
}

func runDecode(args []string) error {
	if len(args) != 1 {
		usage()
	}
	val, _, err := bencode.Decode([]byte(args[0]))
	if err != nil {
		return err
	}
	rendered, err := bencode.MarshalJSON(val)
	if err != nil {
		return err
	}
	fmt.Println(string(rendered))
	return nil
}

func runInfo(args []string) error {
	if len(args) != 1 {
		usage()
	}
	m, err := metainfo.Load(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Tracker URL: %s\n", m.Announce)
	fmt.Printf("Length: %d\n", m.Info.Length)
	fmt.Printf("Info Hash: %x\n", m.InfoHash())
	fmt.Printf("Piece Length: %d\n", m.Info.PieceLength)
	fmt.Println("Piece Hashes:")
	for i := 0; i < m.PieceCount(); i++ {
		fmt.Printf("%x\n", m.PieceHash(i))
	}
	return nil
}

func runPeers(args []string) error {
	if len(args) != 1 {
		usage()
	}
	m, err := metainfo.Load(args[0])
	if err != nil {
		return err
	}
	res, err := tracker.NewClient(tracker.DefaultPeerID()).Announce(m)
	if err != nil {
		return err
	}
	for _, p := range res.Peers {
		fmt.Println(p.String())
	}
	return nil
}

func runHandshake(args []string) error {
	if len(args) != 2 {
		usage()
	}
	m, err := metainfo.Load(args[0])
	if err != nil {
		return err
	}
	s, err := client.Dial(context.Background(), args[1], m.InfoHash(), config())
	if err != nil {
		return err
	}
	defer s.Close()
	fmt.Printf("Peer ID: %x\n", s.RemoteID())
	return nil
}

func runDownloadPiece(args []string) error {
	fs := flag.NewFlagSet("download_piece", flag.ExitOnError)
	outPath := fs.String("o", "", "path of the output file")
	fs.Parse(args)
	if fs.NArg() != 2 || *outPath == "" {
		usage()
	}
	m, err := metainfo.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	index, err := strconv.Atoi(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("invalid piece index %q", fs.Arg(1))
	}
	if err := client.DownloadPieceFile(context.Background(), m, index, *outPath, config()); err != nil {
		return err
	}
	fmt.Printf("Piece %d downloaded to %s.\n", index, *outPath)
	return nil
}

func runDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	outPath := fs.String("o", "", "path of the output file")
	fs.Parse(args)
	if fs.NArg() != 1 || *outPath == "" {
		usage()
	}
	m, err := metainfo.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	if err := client.DownloadFile(context.Background(), m, *outPath, config()); err != nil {
		return err
	}
	fmt.Printf("Downloaded %s to %s.\n", fs.Arg(0), *outPath)
	return nil
}
