package main

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"

	"github.com/arzzra/jingle/pkg/jingle"
	"github.com/arzzra/jingle/pkg/jingle/sdp"
	"github.com/arzzra/jingle/pkg/jingle/stanza"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	convertFile   string
	convertOwner  string
	convertAction string
	convertSID    string
	convertType   string
)

var sdp2jingleCmd = &cobra.Command{
	Use:   "sdp2jingle",
	Short: "Convert an SDP blob into a <jingle/> element",
	Long: `Разбирает SDP и печатает эквивалентный элемент <jingle/>.
Кандидаты из тела SDP переносятся в транспорт соответствующего контента.

Примеры:
  jinglectl sdp2jingle -f offer.sdp
  jinglectl sdp2jingle -f answer.sdp --owner responder --action session-accept`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readInput(convertFile)
		if err != nil {
			return err
		}
		out, err := sdpToJingle(string(text), jingle.Creator(convertOwner), jingle.Action(convertAction), convertSID)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return err
	},
}

var jingle2sdpCmd = &cobra.Command{
	Use:   "jingle2sdp",
	Short: "Convert a <jingle/> element or a Jingle <iq/> into SDP",
	Long: `Разбирает элемент <jingle/> (или <iq/> с ним) и печатает SDP.

Примеры:
  jinglectl jingle2sdp -f initiate.xml
  jinglectl jingle2sdp -f accept.xml --type answer --owner responder`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(convertFile)
		if err != nil {
			return err
		}
		out, err := jingleToSDP(raw, sdp.Type(convertType), jingle.Creator(convertOwner))
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), out)
		return err
	},
}

func init() {
	for _, c := range []*cobra.Command{sdp2jingleCmd, jingle2sdpCmd} {
		c.Flags().StringVarP(&convertFile, "file", "f", "-", "input file, - for stdin")
		c.Flags().StringVar(&convertOwner, "owner", string(jingle.CreatorInitiator),
			"side that produced the description (initiator|responder)")
	}
	sdp2jingleCmd.Flags().StringVar(&convertAction, "action", string(jingle.ActionSessionInitiate), "jingle action")
	sdp2jingleCmd.Flags().StringVar(&convertSID, "sid", "", "session id")
	jingle2sdpCmd.Flags().StringVar(&convertType, "type", string(sdp.TypeOffer), "description type (offer|answer)")
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return raw, nil
}

func sdpToJingle(text string, owner jingle.Creator, action jingle.Action, sid string) ([]byte, error) {
	if !owner.Valid() {
		return nil, errors.Errorf("invalid owner %q", owner)
	}
	if !action.Valid() {
		return nil, errors.Errorf("invalid action %q", action)
	}
	desc, err := sdp.Parse(text, sdp.ParseOptions{Owner: owner})
	if err != nil {
		return nil, err
	}

	contents := desc.Contents.Clone()
	for i := range contents {
		contents[i].Transport.Candidates = append(contents[i].Transport.Candidates, desc.Candidates[contents[i].Name]...)
	}
	return stanza.Marshal(&stanza.Jingle{
		Action:   action,
		SID:      sid,
		Contents: stanza.EncodeContents(contents),
		Groups:   stanza.EncodeGroups(desc.Groups),
	})
}

func jingleToSDP(raw []byte, typ sdp.Type, owner jingle.Creator) (string, error) {
	if typ != sdp.TypeOffer && typ != sdp.TypeAnswer {
		return "", errors.Errorf("invalid type %q", typ)
	}
	if !owner.Valid() {
		return "", errors.Errorf("invalid owner %q", owner)
	}

	j, err := decodeJingle(raw)
	if err != nil {
		return "", err
	}
	contents, errs := stanza.DecodeContents(j.Contents)
	if len(errs) > 0 {
		return "", errs[0]
	}
	if len(contents) == 0 {
		return "", errors.New("no contents")
	}

	cands := make(map[string][]jingle.Candidate, len(contents))
	for _, c := range contents {
		cands[c.Name] = c.Transport.Candidates
	}
	return sdp.Generate(sdp.GenerateRequest{
		Type:       typ,
		Owner:      owner,
		Groups:     stanza.DecodeGroups(j.Groups),
		Contents:   contents,
		Candidates: cands,
	})
}

// decodeJingle принимает <iq/> с полезной нагрузкой или голый <jingle/>
func decodeJingle(raw []byte) (*stanza.Jingle, error) {
	kind, err := stanza.RootKind(raw)
	if err != nil {
		return nil, err
	}
	switch kind {
	case stanza.KindIQ:
		iq, err := stanza.ParseIQ(raw)
		if err != nil {
			return nil, err
		}
		if iq.Jingle == nil {
			return nil, errors.New("iq carries no jingle payload")
		}
		return iq.Jingle, nil
	case "jingle":
		var j stanza.Jingle
		if err := xml.Unmarshal(raw, &j); err != nil {
			return nil, errors.Wrap(err, "parse jingle")
		}
		return &j, nil
	}
	return nil, errors.Errorf("unexpected root <%s>", kind)
}
