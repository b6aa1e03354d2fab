package main

import "gopkg.in/urfave/cli.v1"

var cmds = cli.Commands{
	{
		Name:   "keygen",
		Usage:  "create the key pair of the user",
		Action: keygen,
		Flags: []cli.Flag{
			cli.BoolFlag{
				Name:  "force, f",
				Usage: "overwrite an existing key",
			},
		},
	},
	{
		Name:      "verify",
		Usage:     "check that all nodes of the ledger answer",
		Aliases:   []string{"v"},
		ArgsUsage: "[group.toml]",
		Action:    verify,
	},
	{
		Name:      "create",
		Usage:     "create a new ledger with the user as admin and writer",
		ArgsUsage: "group.toml",
		Action:    create,
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "desc",
				Value: "admin",
				Usage: "description of the admin darc",
			},
		},
	},
	{
		Name:      "attach",
		Usage:     "use an existing ledger",
		ArgsUsage: "group.toml ledger-id",
		Action:    attach,
	},
	{
		Name:  "darc",
		Usage: "inspect and evolve darcs",
		Subcommands: cli.Commands{
			{
				Name:      "show",
				Usage:     "print all versions of a darc, the admin darc if no id is given",
				ArgsUsage: "[darc-id]",
				Action:    darcShow,
			},
			{
				Name:      "path",
				Usage:     "print the path from the darc to the identity",
				ArgsUsage: "darc-id identity",
				Action:    darcPath,
				Flags: []cli.Flag{
					cli.StringFlag{
						Name:  "role, r",
						Value: "reader",
						Usage: "one of owner, writer, reader, admin",
					},
				},
			},
			{
				Name:      "writer",
				Usage:     "evolve the admin darc to add a writer",
				ArgsUsage: "identity",
				Action:    darcWriter,
			},
		},
	},
	{
		Name:      "write",
		Usage:     "encrypt a file and publish it on the ledger",
		Aliases:   []string{"w"},
		ArgsUsage: "file",
		Action:    write,
		Flags: []cli.Flag{
			cli.StringSliceFlag{
				Name:  "reader, r",
				Usage: "identity allowed to read the file, the user if none is given",
			},
		},
	},
	{
		Name:      "read",
		Usage:     "ask for the right to read a document",
		Aliases:   []string{"r"},
		ArgsUsage: "write-id",
		Action:    read,
	},
	{
		Name:      "decrypt",
		Usage:     "get the key of a read-request and decrypt the document",
		ArgsUsage: "read-id",
		Action:    decryptDoc,
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "out, o",
				Usage: "file to write the document to, STDOUT if empty",
			},
		},
	},
	{
		Name:      "list",
		Usage:     "list the read-requests of a document",
		ArgsUsage: "write-id",
		Action:    list,
	},
}
