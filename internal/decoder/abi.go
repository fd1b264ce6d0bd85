package decoder

// GroupABI is the event schema of the group contract.
const GroupABI = `[
  {
    "type": "event",
    "name": "GroupCreated",
    "anonymous": false,
    "inputs": [
      {"name": "groupId", "type": "uint256", "indexed": true},
      {"name": "creator", "type": "address", "indexed": true},
      {"name": "name", "type": "string", "indexed": false},
      {"name": "groupAddress", "type": "address", "indexed": false},
      {"name": "usageCount", "type": "uint256", "indexed": false},
      {"name": "members", "type": "tuple[]", "indexed": false, "components": [
        {"name": "addr", "type": "address"},
        {"name": "percentage", "type": "uint8"}
      ]}
    ]
  },
  {
    "type": "event",
    "name": "GroupPaid",
    "anonymous": false,
    "inputs": [
      {"name": "groupId", "type": "uint256", "indexed": true},
      {"name": "paidBy", "type": "address", "indexed": true},
      {"name": "token", "type": "address", "indexed": false},
      {"name": "amount", "type": "uint256", "indexed": false},
      {"name": "paidAt", "type": "uint64", "indexed": false},
      {"name": "usageRemaining", "type": "uint256", "indexed": false},
      {"name": "members", "type": "tuple[]", "indexed": false, "components": [
        {"name": "addr", "type": "address"},
        {"name": "percentage", "type": "uint8"}
      ]}
    ]
  },
  {
    "type": "event",
    "name": "GroupUpdateRequested",
    "anonymous": false,
    "inputs": [
      {"name": "groupId", "type": "uint256", "indexed": true},
      {"name": "requester", "type": "address", "indexed": true},
      {"name": "newName", "type": "string", "indexed": false}
    ]
  },
  {
    "type": "event",
    "name": "GroupUpdateApproved",
    "anonymous": false,
    "inputs": [
      {"name": "groupId", "type": "uint256", "indexed": true},
      {"name": "approver", "type": "address", "indexed": true},
      {"name": "approvalCount", "type": "uint256", "indexed": false},
      {"name": "totalMembers", "type": "uint256", "indexed": false}
    ]
  },
  {
    "type": "event",
    "name": "GroupUpdated",
    "anonymous": false,
    "inputs": [
      {"name": "groupId", "type": "uint256", "indexed": true},
      {"name": "oldName", "type": "string", "indexed": false},
      {"name": "newName", "type": "string", "indexed": false}
    ]
  }
]`

// ERC20ABI is the Transfer event schema of a token contract.
const ERC20ABI = `[
  {
    "type": "event",
    "name": "Transfer",
    "anonymous": false,
    "inputs": [
      {"name": "from", "type": "address", "indexed": true},
      {"name": "to", "type": "address", "indexed": true},
      {"name": "value", "type": "uint256", "indexed": false}
    ]
  }
]`
