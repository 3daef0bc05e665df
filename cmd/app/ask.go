package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/local/aihelper/internal/dispatcher"
)

var (
	askPrompt string
	askFile   string
	askText   string
	askChat   bool
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Send one file or text to the configured provider and print the answer",
	Example: `  aihelper ask --file slides.pptx
  aihelper ask --prompt "Translate to English:" --text "Bonjour"
  aihelper ask --file shot.png --chat`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if (askFile == "") == (askText == "") {
			return errors.New("exactly one of --file or --text is required")
		}
		ctx := cmd.Context()
		a, err := setup(ctx, os.Stderr, false)
		if err != nil {
			return err
		}
		defer a.Close()

		var t *dispatcher.Ticket
		if askFile != "" {
			t, err = a.disp.Drop(ctx, askFile, askPrompt)
		} else {
			t, err = a.disp.AskText(ctx, askPrompt, askText)
		}
		if err != nil {
			return errors.New(dispatcher.Message(err))
		}

		out := <-t.Done()
		if out.Err != nil {
			return errors.New(out.Message)
		}
		fmt.Fprintln(cmd.OutOrStdout(), out.Text)
		if !askChat || out.SessionID == "" {
			return nil
		}

		// Follow-up loop on stdin until EOF or an empty line.
		in := bufio.NewScanner(cmd.InOrStdin())
		for {
			fmt.Fprint(cmd.ErrOrStderr(), "> ")
			if !in.Scan() || strings.TrimSpace(in.Text()) == "" {
				break
			}
			reply := a.disp.FollowUp(ctx, out.SessionID, in.Text())
			if reply.Err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), reply.Message)
				continue
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply.Text)
		}
		return a.disp.CloseSession(ctx, out.SessionID)
	},
}

func init() {
	askCmd.Flags().StringVar(&askPrompt, "prompt", "", "prompt; defaults to the drop handler or action prompt")
	askCmd.Flags().StringVar(&askFile, "file", "", "file to send (image, text, docx, pptx, pdf)")
	askCmd.Flags().StringVar(&askText, "text", "", "text to send")
	askCmd.Flags().BoolVar(&askChat, "chat", false, "keep the conversation open and read follow-ups from stdin")
}
