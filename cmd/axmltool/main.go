// axmltool converts Android binary XML documents and resource tables.
//
//	axmltool decode [-a] INPUT           binary XML (or the manifest of an APK) to XML
//	axmltool encode INPUT.xml -o OUT     XML to binary XML
//	axmltool verify INPUT                check that INPUT packs back to the same bytes
//	axmltool dump INPUT -o OUT           export the decoded model as CBOR
//	axmltool public list ARSC
//	axmltool public get ARSC PKG TYPE NAME
//	axmltool public add ARSC PKG TYPE NAME PATH -o OUT
package main

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/beevik/etree"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/zeebo/blake3"

	"github.com/avast/apkcodec"
)

type app struct {
	log     *slog.Logger
	catalog *apkcodec.AttributeCatalog
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var logLevel, catalogPath string

	flagSet := pflag.NewFlagSet("axmltool", pflag.ContinueOnError)
	flagSet.StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flagSet.StringVar(&catalogPath, "catalog", "", "YAML file with extra android: attribute ids")
	flagSet.SetInterspersed(false)
	flagSet.Usage = func() { printUsage(flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return errors.Wrapf(err, "invalid --log-level %q", logLevel)
	}

	a := &app{
		log: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}

	if catalogPath != "" {
		f, err := os.Open(catalogPath)
		if err != nil {
			return err
		}
		extra, err := apkcodec.LoadAttributeCatalog(f)
		f.Close()
		if err != nil {
			return err
		}
		a.catalog = apkcodec.SystemAttributes().Merge(extra)
		a.log.Debug("loaded attribute catalog", "path", catalogPath, "attributes", a.catalog.Len())
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printUsage(flagSet)
		return errors.New("missing command")
	}

	switch rest[0] {
	case "decode":
		return a.decode(rest[1:])
	case "encode":
		return a.encode(rest[1:])
	case "verify":
		return a.verify(rest[1:])
	case "dump":
		return a.dump(rest[1:])
	case "public":
		return a.public(rest[1:])
	}
	printUsage(flagSet)
	return errors.Errorf("unknown command %q", rest[0])
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Usage: axmltool [flags] COMMAND

Commands:
  decode [-a] INPUT             print binary XML (or an APK manifest) as XML
  encode INPUT.xml -o OUT       compile XML to binary XML
  verify INPUT                  decode and pack INPUT, compare the bytes
  dump INPUT -o OUT             export the decoded model as CBOR
  public list ARSC              list the entries of a resource table
  public get ARSC PKG TYPE NAME print the id of a resource
  public add ARSC PKG TYPE NAME PATH -o OUT
                                add a string resource and write the table

Flags:
`)
	flagSet.PrintDefaults()
}

// parseCommand parses the flags of a subcommand and checks its argument count.
func parseCommand(fs *pflag.FlagSet, args []string, nargs int, usage string) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != nargs {
		return nil, errors.Errorf("usage: axmltool %s", usage)
	}
	return fs.Args(), nil
}

func (a *app) readInput(input string) ([]byte, error) {
	if input == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(input)
}

func (a *app) writeOutput(output string, data []byte) error {
	if output == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(output, data, 0644); err != nil {
		return err
	}
	a.log.Info("wrote output", "path", output, "bytes", len(data))
	return nil
}

func (a *app) decodeResource(input string) (apkcodec.Resource, []byte, error) {
	data, err := a.readInput(input)
	if err != nil {
		return nil, nil, err
	}

	res, err := apkcodec.Decode(data)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to decode %s", input)
	}
	if x, ok := res.(*apkcodec.AXML); ok {
		x.Catalog = a.catalog
	}
	a.log.Debug("decoded", "path", input, "kind", res.Kind(), "bytes", len(data))
	return res, data, nil
}

func (a *app) decode(args []string) error {
	fs := pflag.NewFlagSet("decode", pflag.ContinueOnError)
	isApk := fs.BoolP("apk", "a", false, "the input file is an apk")
	args, err := parseCommand(fs, args, 1, "decode [-a] INPUT")
	if err != nil {
		return err
	}

	input := args[0]
	if strings.HasSuffix(input, ".apk") {
		*isApk = true
	}

	enc := xml.NewEncoder(os.Stdout)
	enc.Indent("", "    ")

	if *isApk {
		zipErr, resErr, manErr := apkcodec.ParseApk(input, enc)
		if zipErr != nil {
			return errors.Wrap(zipErr, "failed to open the APK")
		}
		if resErr != nil {
			a.log.Warn("failed to parse resources", "error", resErr)
		}
		fmt.Println()
		return manErr
	}

	data, err := a.readInput(input)
	if err != nil {
		return err
	}

	x, err := apkcodec.DecodeAXML(data)
	if err != nil {
		return err
	}
	x.Catalog = a.catalog

	doc, err := x.ToXML()
	if err != nil {
		return err
	}
	doc.Indent(4)
	_, err = doc.WriteTo(os.Stdout)
	return err
}

func (a *app) encode(args []string) error {
	fs := pflag.NewFlagSet("encode", pflag.ContinueOnError)
	output := fs.StringP("output", "o", "", "output file, - for stdout")
	args, err := parseCommand(fs, args, 1, "encode INPUT.xml -o OUT")
	if err != nil {
		return err
	}
	if *output == "" {
		return errors.New("missing -o")
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromFile(args[0]); err != nil {
		return errors.Wrapf(err, "failed to read %s", args[0])
	}

	x := apkcodec.NewAXML()
	x.Catalog = a.catalog
	if err := x.FromXML(doc.Root()); err != nil {
		return err
	}
	a.log.Debug("compiled", "strings", x.Pool.Len(), "nodes", len(x.Nodes))

	data, err := x.Pack()
	if err != nil {
		return err
	}
	return a.writeOutput(*output, data)
}

func (a *app) verify(args []string) error {
	fs := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	args, err := parseCommand(fs, args, 1, "verify INPUT")
	if err != nil {
		return err
	}

	res, data, err := a.decodeResource(args[0])
	if err != nil {
		return err
	}

	packed, err := res.Pack()
	if err != nil {
		return err
	}

	in, out := blake3.Sum256(data), blake3.Sum256(packed)
	fmt.Printf("%s  %x  %d bytes\n", args[0], in, len(data))
	fmt.Printf("packed  %x  %d bytes\n", out, len(packed))

	if !bytes.Equal(data, packed) {
		for i := 0; i < len(data) && i < len(packed); i++ {
			if data[i] != packed[i] {
				a.log.Error("first difference", "offset", fmt.Sprintf("0x%x", i))
				break
			}
		}
		return errors.Errorf("%s does not pack back to the same bytes", args[0])
	}
	fmt.Println("identical")
	return nil
}

func (a *app) dump(args []string) error {
	fs := pflag.NewFlagSet("dump", pflag.ContinueOnError)
	output := fs.StringP("output", "o", "-", "output file, - for stdout")
	args, err := parseCommand(fs, args, 1, "dump INPUT -o OUT")
	if err != nil {
		return err
	}

	res, _, err := a.decodeResource(args[0])
	if err != nil {
		return err
	}

	data, err := apkcodec.MarshalModel(res)
	if err != nil {
		return err
	}
	return a.writeOutput(*output, data)
}

func (a *app) readTable(path string) (*apkcodec.ARSC, error) {
	data, err := a.readInput(path)
	if err != nil {
		return nil, err
	}
	table, err := apkcodec.DecodeARSC(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}
	return table, nil
}

func (a *app) public(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: axmltool public list|get|add ARSC ...")
	}

	switch args[0] {
	case "list":
		fs := pflag.NewFlagSet("public list", pflag.ContinueOnError)
		args, err := parseCommand(fs, args[1:], 1, "public list ARSC")
		if err != nil {
			return err
		}
		table, err := a.readTable(args[0])
		if err != nil {
			return err
		}
		fmt.Print(table.ListPackages())
		return nil

	case "get":
		fs := pflag.NewFlagSet("public get", pflag.ContinueOnError)
		args, err := parseCommand(fs, args[1:], 4, "public get ARSC PKG TYPE NAME")
		if err != nil {
			return err
		}
		table, err := a.readTable(args[0])
		if err != nil {
			return err
		}
		id, data, err := table.GetIDPublic(args[1], args[2], args[3])
		if err != nil {
			return err
		}
		fmt.Printf("0x%08x 0x%08x\n", id, data)
		return nil

	case "add":
		fs := pflag.NewFlagSet("public add", pflag.ContinueOnError)
		output := fs.StringP("output", "o", "", "output file, - for stdout")
		args, err := parseCommand(fs, args[1:], 5, "public add ARSC PKG TYPE NAME PATH -o OUT")
		if err != nil {
			return err
		}
		if *output == "" {
			return errors.New("missing -o")
		}
		table, err := a.readTable(args[0])
		if err != nil {
			return err
		}
		id, err := table.AddIDPublic(args[1], args[2], args[3], args[4])
		if err != nil {
			return err
		}
		a.log.Info("added resource", "id", fmt.Sprintf("0x%08x", id), "type", args[2], "name", args[3])

		data, err := table.Pack()
		if err != nil {
			return err
		}
		if *output != "-" {
			fmt.Printf("0x%08x\n", id)
		}
		return a.writeOutput(*output, data)
	}
	return errors.Errorf("unknown public command %q", args[0])
}
